package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Record is one document body. The stack assigns its identity.
type Record = map[string]any

// RecordSet is the ordered list of records to create for one doctype. The
// first record is the bootstrap record.
type RecordSet struct {
	DocType string
	Records []Record
}

// Split separates the bootstrap record from the rest. The caller's slice is
// neither mutated nor aliased. ok is false for an empty set.
func (s RecordSet) Split() (bootstrap Record, rest []Record, ok bool) {
	if len(s.Records) == 0 {
		return nil, nil, false
	}

	return s.Records[0], slices.Clone(s.Records[1:]), true
}

// LoadRecords reads a data file mapping doctype to a list of documents:
//
//	{"io.cozy.contacts": [{"name": "A"}, {"name": "B"}]}
//
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
// Doctypes are returned in file order.
func LoadRecords(path string) ([]RecordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: reading data file: %w", err)
	}

	var sets []RecordSet

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		sets, err = decodeYAMLRecords(data)
	default:
		sets, err = decodeJSONRecords(data)
	}

	if err != nil {
		return nil, fmt.Errorf("importer: parsing %s: %w", path, err)
	}

	return sets, nil
}

// decodeJSONRecords walks the top-level object token by token so the
// doctype order of the file is kept. Numbers stay json.Number to be sent
// back unchanged.
func decodeJSONRecords(data []byte) ([]RecordSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("top level must be an object mapping doctype to documents")
	}

	var sets []RecordSet

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		docType, _ := keyTok.(string) //nolint:errcheck // object keys are always strings

		var records []Record
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("doctype %q: expected a list of objects: %w", docType, err)
		}

		sets = append(sets, RecordSet{DocType: docType, Records: records})
	}

	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return sets, validateSets(sets)
}

func decodeYAMLRecords(data []byte) ([]RecordSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	if len(root.Content) == 0 {
		return nil, nil
	}

	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, errors.New("top level must be a mapping of doctype to documents")
	}

	sets := make([]RecordSet, 0, len(mapping.Content)/2)

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		docType := mapping.Content[i].Value

		var records []Record
		if err := mapping.Content[i+1].Decode(&records); err != nil {
			return nil, fmt.Errorf("doctype %q (line %d): expected a list of mappings: %w",
				docType, mapping.Content[i].Line, err)
		}

		sets = append(sets, RecordSet{DocType: docType, Records: records})
	}

	return sets, validateSets(sets)
}

func validateSets(sets []RecordSet) error {
	var errs []error

	seen := make(map[string]bool, len(sets))

	for _, s := range sets {
		switch {
		case strings.TrimSpace(s.DocType) == "":
			errs = append(errs, errors.New("empty doctype"))
		case seen[s.DocType]:
			errs = append(errs, fmt.Errorf("doctype %q listed twice", s.DocType))
		}

		seen[s.DocType] = true

		for i, r := range s.Records {
			if r == nil {
				errs = append(errs, fmt.Errorf("doctype %q: document %d is null", s.DocType, i))
			}
		}
	}

	return errors.Join(errs...)
}

// DocTypes lists the doctypes of sets in order.
func DocTypes(sets []RecordSet) []string {
	out := make([]string, 0, len(sets))
	for _, s := range sets {
		out = append(out, s.DocType)
	}

	return out
}
