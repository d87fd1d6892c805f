package mci_json2tsv

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseDuplicatePreserving parses a JSON document into a tree of
// map[string]any / []any / scalar values, keeping every value of a key that
// appears more than once in the same object. A key seen once maps to its
// value; a key seen N>=2 times maps to a []any of the N values in encounter
// order. The COG export legally emits repeated "data" keys per form, which
// the standard decoder would silently overwrite.
//
// Numbers are decoded as json.Number so that identifiers like CDE codes
// survive stringification unchanged.
func ParseDuplicatePreserving(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}

	// trailing garbage after the document is a parse error
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing content after JSON document")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		// string, json.Number, bool or nil
		return tok, nil
	}
}

func parseObject(dec *json.Decoder) (map[string]any, error) {
	result := map[string]any{}
	seen := map[string]int{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %v", keyTok)
		}

		value, err := parseValue(dec)
		if err != nil {
			return nil, err
		}

		switch seen[key] {
		case 0:
			result[key] = value
		case 1:
			result[key] = []any{result[key], value}
		default:
			result[key] = append(result[key].([]any), value)
		}
		seen[key]++
	}

	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return result, nil
}

func parseArray(dec *json.Decoder) ([]any, error) {
	result := []any{}
	for dec.More() {
		value, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}

	// consume closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return result, nil
}
