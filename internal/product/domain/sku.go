package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var skuPattern = regexp.MustCompile(`^[A-Z]{3}-\d{5}$`)

// SkuID identifica comercialmente un producto: tres mayúsculas, guion y cinco dígitos (ej. "ABC-12345").
// Solo se construye mediante NewSkuID.
type SkuID struct {
	value string
}

func NewSkuID(raw string) (SkuID, error) {
	if !skuPattern.MatchString(raw) {
		return SkuID{}, fmt.Errorf("%w: %q", ErrInvalidSku, raw)
	}
	return SkuID{value: raw}, nil
}

func (s SkuID) String() string { return s.value }

func (s SkuID) IsZero() bool { return s.value == "" }

func (s SkuID) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func (s *SkuID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewSkuID(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
