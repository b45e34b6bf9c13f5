// Package xmlexport renders stored file metadata as a distribution document.
package xmlexport

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"io"
	"slices"

	"github.com/hsn0918/fileconv/internal/store"
)

const (
	ContentType = "application/xml; charset=UTF-8"
	// DocumentName is the attachment name of the full export.
	DocumentName = "metadata.xml"
)

type Distribution struct {
	XMLName xml.Name `xml:"distribution"`
	Assets  []Asset  `xml:"asset"`
}

type Asset struct {
	XMLName     xml.Name `xml:"asset"`
	Title       string   `xml:"title"`
	Path        string   `xml:"path"`
	Extension   string   `xml:"extension"`
	MimeType    string   `xml:"mime-type"`
	Size        int64    `xml:"size"`
	Description string   `xml:"description"`
}

func AssetOf(f store.File) Asset {
	return Asset{
		Title:       f.OriginalName,
		Path:        f.Path,
		Extension:   f.Extension,
		MimeType:    f.MimeType,
		Size:        f.Size,
		Description: f.DescriptionOr(""),
	}
}

// SingleName is the attachment name of the export of one file.
func SingleName(id uint) string {
	return fmt.Sprintf("file_%d.xml", id)
}

// WriteDistribution writes every file as an asset of one distribution, in
// insertion order whatever the order of files.
func WriteDistribution(w io.Writer, files []store.File) error {
	ordered := slices.SortedFunc(slices.Values(files), func(a, b store.File) int {
		return cmp.Compare(a.ID, b.ID)
	})

	doc := Distribution{Assets: make([]Asset, 0, len(ordered))}
	for _, f := range ordered {
		doc.Assets = append(doc.Assets, AssetOf(f))
	}
	return write(w, doc)
}

// WriteAsset writes a document holding the single asset of f.
func WriteAsset(w io.Writer, f store.File) error {
	return write(w, AssetOf(f))
}

func write(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush xml: %w", err)
	}

	_, err := io.WriteString(w, "\n")
	return err
}
