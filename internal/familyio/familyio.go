// Package familyio reads and writes meaning family files.
//
// Three formats are supported:
//   - text: one family per line, words separated by commas or whitespace. Lines starting with
//     "#" are comments, except "# collection: NAME" which starts a new named collection.
//   - json: either an array of word arrays, or {"collections": [...]} like the YAML form.
//   - yaml: a collections document (see package collections).
package familyio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/thebtf/smallmerge/internal/collections"
	"github.com/thebtf/smallmerge/pkg/models"
)

// Format identifies a family file encoding.
type Format string

const (
	// FormatText is the line-oriented format.
	FormatText Format = "text"
	// FormatJSON is the JSON format.
	FormatJSON Format = "json"
	// FormatYAML is the YAML collections format.
	FormatYAML Format = "yaml"
)

const collectionHeader = "collection:"

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// DetectFormat picks a format from a file extension. Unknown extensions are text.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yml", ".yaml":
		return FormatYAML
	}
	return FormatText
}

// Decode reads families in the given format. Families without an explicit collection are
// placed in a collection called name.
func Decode(r io.Reader, format Format, name string) (*collections.Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read families: %w", err)
	}

	switch format {
	case FormatText:
		return decodeText(data, name)
	case FormatJSON:
		return decodeJSON(data, name)
	case FormatYAML:
		reg, err := collections.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return reg, nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// Encode writes every collection of reg in the given format.
func Encode(w io.Writer, format Format, reg *collections.Registry) error {
	switch format {
	case FormatText:
		return encodeText(w, reg)
	case FormatJSON:
		return encodeJSON(w, reg)
	case FormatYAML:
		data, err := reg.Marshal()
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

// ReadFile decodes a family file, detecting the format from its extension.
// The default collection is named after the file.
func ReadFile(path string) (*collections.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reg, err := Decode(f, DetectFormat(path), BaseName(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// WriteFile encodes reg into path.
func WriteFile(path string, format Format, reg *collections.Registry) error {
	var buf bytes.Buffer
	if err := Encode(&buf, format, reg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// BaseName returns the file name without directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Single wraps one family list in a registry.
func Single(name string, families []models.Family) *collections.Registry {
	reg := collections.NewRegistry()
	_ = reg.Add(collections.Collection{Name: name, Families: families})
	return reg
}

func decodeText(data []byte, name string) (*collections.Registry, error) {
	reg := collections.NewRegistry()
	current := collections.Collection{Name: name}
	started := false

	flush := func() error {
		if !started && len(current.Families) == 0 {
			return nil
		}
		return reg.Add(current)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if strings.HasPrefix(comment, collectionHeader) {
				if err := flush(); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				current = collections.Collection{
					Name: strings.TrimSpace(strings.TrimPrefix(comment, collectionHeader)),
				}
				started = true
			}
			continue
		}
		current.Families = append(current.Families, splitWords(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan families: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return reg, nil
}

func encodeText(w io.Writer, reg *collections.Registry) error {
	bw := bufio.NewWriter(w)
	all := reg.All()
	for i, c := range all {
		if len(all) > 1 {
			if i > 0 {
				fmt.Fprintln(bw)
			}
			fmt.Fprintf(bw, "# %s %s\n", collectionHeader, c.Name)
		}
		for _, f := range c.Families {
			fmt.Fprintln(bw, strings.Join(f, ", "))
		}
	}
	return bw.Flush()
}

func decodeJSON(data []byte, name string) (*collections.Registry, error) {
	trimmed := bytes.TrimLeftFunc(data, unicode.IsSpace)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var families []models.Family
		if err := json.Unmarshal(trimmed, &families); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return Single(name, families), nil
	}

	var cfg collections.Config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	reg := collections.NewRegistry()
	for _, c := range cfg.Collections {
		if err := reg.Add(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func encodeJSON(w io.Writer, reg *collections.Registry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	all := reg.All()
	if len(all) == 1 {
		families := all[0].Families
		if families == nil {
			families = []models.Family{}
		}
		return enc.Encode(families)
	}
	return enc.Encode(collections.Config{Collections: reg.Collections()})
}

// splitWords splits a text line on commas and whitespace.
func splitWords(line string) models.Family {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return models.Family(fields)
}
