package schema

import (
	"bytes"
	"encoding/json"
)

// FieldNames returns the top-level keys of a schema object in document
// order. Anything that is not an object yields nil.
func FieldNames(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}

	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return names
		}
		key, ok := tok.(string)
		if !ok {
			return names
		}
		names = append(names, key)

		// Skip the value.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return names
		}
	}
	return names
}
