package book

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// DefaultImageType is used when an image extension is not recognized.
const DefaultImageType = "image/jpeg"

// ContentType derives a media type from the extension of name.
func ContentType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	switch ext {
	case "":
		return DefaultImageType
	case "jpeg", "jpe":
		ext = "jpg"
	case "svg":
		// not a magic-number format, filetype does not know it
		return "image/svg+xml"
	case "tiff":
		ext = "tif"
	}
	t := filetype.GetType(ext)
	if t == filetype.Unknown || !strings.HasPrefix(t.MIME.Value, "image/") {
		return DefaultImageType
	}
	return t.MIME.Value
}

// AssetFileName returns the base file name a written image reference is
// packaged under. For URLs the query and fragment are ignored.
func AssetFileName(sourceRef string) string {
	ref := strings.TrimSpace(sourceRef)
	if IsRemoteLocation(ref) {
		if u, err := url.Parse(ref); err == nil {
			ref = u.Path
		}
	} else if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	base := path.Base(filepath.ToSlash(ref))
	if base == "." || base == "/" || base == "" {
		return "image"
	}
	return base
}
