package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const appName = "md2epub"

// LoggerConfig configures one log destination. Level is one of none, normal
// or debug.
type LoggerConfig struct {
	Level       string `yaml:"level"`
	Destination string `yaml:"destination,omitempty"`
	Mode        string `yaml:"mode,omitempty"` // append or overwrite
}

// LoggingConfig configures console and file logging.
type LoggingConfig struct {
	Console LoggerConfig `yaml:"console"`
	File    LoggerConfig `yaml:"file"`
}

func validLevel(level string) bool {
	switch level {
	case "", "none", "normal", "debug":
		return true
	}
	return false
}

func (conf *LoggingConfig) validate() error {
	if !validLevel(conf.Console.Level) {
		return fmt.Errorf("console log level must be none, normal or debug, got %q", conf.Console.Level)
	}
	if !validLevel(conf.File.Level) {
		return fmt.Errorf("file log level must be none, normal or debug, got %q", conf.File.Level)
	}
	switch conf.File.Mode {
	case "", "append", "overwrite":
	default:
		return fmt.Errorf("file log mode must be append or overwrite, got %q", conf.File.Mode)
	}
	if conf.File.Level != "" && conf.File.Level != "none" && conf.File.Destination == "" {
		return errors.New("file logging needs a destination")
	}
	return nil
}

// Prepare returns the program logger. Info and debug lines go to stdout,
// warnings and errors to stderr.
func (conf *LoggingConfig) Prepare() (*zap.Logger, error) {
	return conf.prepare(os.Stdout, os.Stderr)
}

func (conf *LoggingConfig) prepare(stdout, stderr *os.File) (*zap.Logger, error) {
	lowPriority, highPriority := consoleCores(conf.Console.Level,
		zapcore.Lock(stdout), consoleEncoder(colorOutput(stdout)),
		zapcore.Lock(stderr), consoleEncoder(colorOutput(stderr)))

	fileCore, err := conf.fileCore()
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewTee(highPriority, lowPriority, fileCore)).Named(appName), nil
}

func consoleCores(level string, out zapcore.WriteSyncer, outEnc zapcore.Encoder, errOut zapcore.WriteSyncer, errEnc zapcore.Encoder) (low, high zapcore.Core) {
	var minLevel zapcore.Level
	switch level {
	case "normal", "":
		minLevel = zapcore.InfoLevel
	case "debug":
		minLevel = zapcore.DebugLevel
	default:
		return zapcore.NewNopCore(), zapcore.NewNopCore()
	}
	low = zapcore.NewCore(outEnc, out, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return minLevel <= lvl && lvl < zapcore.WarnLevel
	}))
	high = zapcore.NewCore(errEnc, errOut, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.WarnLevel
	}))
	return low, high
}

func (conf *LoggingConfig) fileCore() (zapcore.Core, error) {
	var level zapcore.Level
	switch conf.File.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "normal":
		level = zapcore.InfoLevel
	default:
		return zapcore.NewNopCore(), nil
	}

	if err := os.MkdirAll(filepath.Dir(conf.File.Destination), 0755); err != nil {
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if conf.File.Mode == "overwrite" {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(conf.File.Destination, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to access file log destination (%s): %w", conf.File.Destination, err)
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zapcore.NewCore(enc, zapcore.Lock(f), zap.NewAtomicLevelAt(level)), nil
}

func colorOutput(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func consoleEncoder(color bool) zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	if color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.TimeKey = zapcore.OmitKey
	} else {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return shortErrorEncoder{zapcore.NewConsoleEncoder(ec)}
}

// shortErrorEncoder drops the verbose form of error fields on the console.
type shortErrorEncoder struct {
	zapcore.Encoder
}

func (c shortErrorEncoder) Clone() zapcore.Encoder {
	return shortErrorEncoder{c.Encoder.Clone()}
}

func (c shortErrorEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	out := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		if f.Type == zapcore.ErrorType {
			if e, ok := f.Interface.(error); ok {
				f.Interface = errors.New(e.Error())
			}
		}
		out = append(out, f)
	}
	return c.Encoder.EncodeEntry(ent, out)
}
