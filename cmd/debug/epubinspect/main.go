// Debug program that prints the structure of an EPUB package.
//
// Usage:
//
//	go run ./cmd/debug/epubinspect <epub-file> (<entry-name> ...)
//
// It prints:
// - archive entries in order with their compression
// - package metadata, manifest and spine
// - NCX and navigation document entries
// - dangling image references and structural problems
// - the contents of any entry named on the command line
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/yuanying/md2epub/internal/epub"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/debug/epubinspect <epub-file> (<entry-name> ...)")
		os.Exit(1)
	}

	epubPath := os.Args[1]
	entryNames := os.Args[2:]

	fmt.Printf("Inspecting EPUB file: %s\n", epubPath)
	rep, err := epub.Inspect(epubPath)
	if err != nil {
		log.Fatalf("Failed to inspect EPUB: %v", err)
	}
	fmt.Printf("OPF Path: %s (version %s)\n\n", rep.OPFPath, rep.Version)

	fmt.Printf("Entries: %d\n", len(rep.Entries))
	for _, e := range rep.Entries {
		method := "deflate"
		if e.Stored {
			method = "stored"
		}
		fmt.Printf("  %-40s %-8s %8d\n", e.Name, method, e.Size)
	}

	md := rep.Metadata
	fmt.Println("\nMetadata:")
	fmt.Printf("  identifier: %s\n", md.Identifier)
	fmt.Printf("  title:      %s\n", md.Title)
	fmt.Printf("  language:   %s\n", md.Language)
	fmt.Printf("  creators:   %s\n", strings.Join(md.Creators, ", "))
	fmt.Printf("  date:       %s (modified %s)\n", md.Date, md.Modified)
	if md.CoverID != "" {
		fmt.Printf("  cover:      %s\n", md.CoverID)
	}

	fmt.Println("\nManifest:")
	for _, it := range rep.Manifest {
		props := ""
		if len(it.Properties) > 0 {
			props = " [" + strings.Join(it.Properties, " ") + "]"
		}
		fmt.Printf("  %-14s %-28s %s%s\n", it.ID, it.Href, it.MediaType, props)
	}

	fmt.Printf("\nSpine: %s\n", strings.Join(rep.Spine, " -> "))

	printNav("NCX", rep.NCX)
	printNav("Navigation document", rep.Nav)

	if len(rep.Dangling) > 0 {
		fmt.Println("\nDangling image references:")
		for _, d := range rep.Dangling {
			fmt.Printf("  - %s\n", d)
		}
	}

	if len(entryNames) > 0 {
		rd, err := epub.Open(epubPath)
		if err != nil {
			log.Fatalf("Failed to open EPUB: %v", err)
		}
		defer rd.Close()
		for _, name := range entryNames {
			content, err := rd.ReadFile(name)
			if err != nil {
				log.Fatalf("Failed to read %s: %v", name, err)
			}
			fmt.Printf("\n--- %s (%d bytes)\n%s\n", name, len(content), content)
		}
	}

	if len(rep.Problems) > 0 {
		fmt.Println("\nProblems:")
		for _, p := range rep.Problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(2)
	}
	fmt.Println("\nNo structural problems found")
}

func printNav(title string, entries []epub.NavEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for i, e := range entries {
		fmt.Printf("  %d. %s -> %s\n", i+1, e.Label, e.Href)
	}
}
