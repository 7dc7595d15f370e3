// Package schema parses user supplied schema text and assigns a schema to
// every submitted file.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/pdf-batch/backend/internal/models"
)

// ErrInvalidInput is returned when schema text cannot be used.
var ErrInvalidInput = errors.New("invalid schema input")

var emptyObject = json.RawMessage("{}")

// Parse parses text as either a single schema object or a labeled list.
//
// A labeled list keeps only object elements whose label is non-empty and
// whose extraction_schema is an object (missing or null becomes {}). A list
// with no surviving element is invalid.
func Parse(text string) (models.SchemaInput, error) {
	raw, err := decodeSingle([]byte(text))
	if err != nil {
		return models.SchemaInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	switch kindOf(raw) {
	case '{':
		return models.SchemaInput{Mode: models.SchemaModeSingle, Schema: raw}, nil
	case '[':
		items, err := parseLabeled(raw)
		if err != nil {
			return models.SchemaInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if len(items) == 0 {
			return models.SchemaInput{}, fmt.Errorf("%w: no entry has both a label and an object extraction_schema", ErrInvalidInput)
		}
		return models.SchemaInput{Mode: models.SchemaModeLabeled, Items: items}, nil
	default:
		return models.SchemaInput{}, fmt.Errorf("%w: expected an object or an array", ErrInvalidInput)
	}
}

// decodeSingle reads exactly one JSON value from data.
func decodeSingle(data []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty input")
		}
		return nil, err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the first JSON value")
	}
	return raw, nil
}

func parseLabeled(raw json.RawMessage) ([]models.LabeledSchema, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}

	items := make([]models.LabeledSchema, 0, len(elems))
	for _, elem := range elems {
		if kindOf(elem) != '{' {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil {
			return nil, err
		}

		label := coerceString(fields["label"])
		if label == "" {
			continue
		}

		schema := fields["extraction_schema"]
		switch kindOf(schema) {
		case 0, 'n':
			schema = emptyObject
		case '{':
		default:
			continue
		}

		items = append(items, models.LabeledSchema{
			Label:          label,
			Schema:         schema,
			SourceFileHint: truthyString(fields["pdf_path"]),
		})
	}
	return items, nil
}

// kindOf returns the first significant byte of a JSON value, 'n' for null
// and 0 when the value is absent.
func kindOf(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// coerceString renders a JSON value the way it reads as text. Strings are
// used as is, null and missing values become empty and composites keep
// their JSON text.
func coerceString(raw json.RawMessage) string {
	switch kindOf(raw) {
	case 0, 'n':
		return ""
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case 't':
		return "true"
	case 'f':
		return "false"
	case '{', '[':
		return string(bytes.TrimSpace(raw))
	default:
		return formatNumber(string(bytes.TrimSpace(raw)))
	}
}

// truthyString returns the string form of a truthy JSON value, or "" for
// null, false, zero and the empty string.
func truthyString(raw json.RawMessage) string {
	switch kindOf(raw) {
	case 0, 'n', 'f':
		return ""
	case '"', 't', '{', '[':
		return coerceString(raw)
	default:
		s := formatNumber(string(bytes.TrimSpace(raw)))
		if s == "0" {
			return ""
		}
		return s
	}
}

func formatNumber(text string) string {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return text
	}
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
