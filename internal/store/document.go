package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	YAMLIndent = 2
)

// Format is the encoding of a catalog document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// FormatOf derives the document format from the file extension of p.
// JSON documents may contain comments and trailing commas (.jsonc style).
func FormatOf(p string) (Format, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("unsupported catalog document extension: %q", p)
}

// DecodeDocument parses a catalog document. Unknown fields are rejected.
// An empty input yields an empty document.
func DecodeDocument(data []byte, format Format) (*catalog.Document, error) {
	doc := &catalog.Document{}
	switch format {
	case FormatJSON:
		data = jsonc.ToJSON(data)
		if len(bytes.TrimSpace(data)) == 0 {
			return doc, nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(doc); err != nil {
			return nil, err
		}
		if dec.More() {
			return nil, fmt.Errorf("trailing data after catalog document")
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true) // Be strict and error out on any unknown field
		if err := dec.Decode(doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %v", format)
	}
	return doc, nil
}

// EncodeDocument serializes doc. Map keys are written in sorted order, so
// encoding the same catalog twice produces identical output.
func EncodeDocument(doc *catalog.Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		bs, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(bs, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(YAMLIndent)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode catalog document: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to close encoder: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %v", format)
}

// ReadDocument reads the catalog document at path from st.
func ReadDocument(st Store, path string) (*catalog.Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	bs, err := st.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := DecodeDocument(bs, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return doc, nil
}

// WriteDocument writes doc to path in st, in the format given by the path's extension.
func WriteDocument(st Store, path string, doc *catalog.Document) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	bs, err := EncodeDocument(doc, format)
	if err != nil {
		return err
	}
	return st.WriteFile(path, bs)
}
