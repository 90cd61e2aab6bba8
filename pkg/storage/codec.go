package storage

import (
	"encoding/json"
	"fmt"
)

// Nested structures are stored as JSON columns. All encoding and decoding
// goes through these helpers so the wire shape is defined in exactly one
// place.

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}
	return string(data), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func encodeOptions(options []Option) (string, error) {
	if options == nil {
		options = []Option{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	return string(data), nil
}

func decodeOptions(raw string) ([]Option, error) {
	if raw == "" {
		return nil, nil
	}
	var options []Option
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if len(options) == 0 {
		return nil, nil
	}
	return options, nil
}

func encodeAnswer(answer *Answer) (string, error) {
	if answer == nil {
		return "", nil
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("encode answer: %w", err)
	}
	return string(data), nil
}

func decodeAnswer(raw string) (*Answer, error) {
	if raw == "" {
		return nil, nil
	}
	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	return &answer, nil
}
