package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalAs decodifica data en un T rechazando campos desconocidos.
func UnmarshalAs[T any](data json.RawMessage) (T, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
