package model

import (
	"fmt"
	"strings"
)

// ControlField identifies one controllable quantity of a DER.
type ControlField uint8

const (
	FieldConnect ControlField = iota
	FieldEnergize
	FieldExportLimit
	FieldImportLimit
	FieldGenerationLimit
	FieldLoadLimit
	FieldStorageChargeLimit
	FieldStorageDischargeLimit

	fieldCount
)

// NumFields is the number of known control fields.
const NumFields = int(fieldCount)

var fieldNames = [...]string{
	FieldConnect:               "connect",
	FieldEnergize:              "energize",
	FieldExportLimit:           "export_limit",
	FieldImportLimit:           "import_limit",
	FieldGenerationLimit:       "generation_limit",
	FieldLoadLimit:             "load_limit",
	FieldStorageChargeLimit:    "storage_charge_limit",
	FieldStorageDischargeLimit: "storage_discharge_limit",
}

// AllFields returns every known field in declaration order.
func AllFields() []ControlField {
	fields := make([]ControlField, 0, NumFields)
	for f := ControlField(0); f < fieldCount; f++ {
		fields = append(fields, f)
	}
	return fields
}

// String returns the snake_case name used in configuration and topics.
func (f ControlField) String() string {
	if f < fieldCount {
		return fieldNames[f]
	}
	return "unknown"
}

// Valid reports whether f is a known field.
func (f ControlField) Valid() bool { return f < fieldCount }

// IsBool reports whether the field carries an on/off value rather than watts.
func (f ControlField) IsBool() bool {
	return f == FieldConnect || f == FieldEnergize
}

// ParseControlField maps a field name back to its ControlField.
func ParseControlField(s string) (ControlField, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range fieldNames {
		if name == s {
			return ControlField(i), nil
		}
	}
	return 0, fmt.Errorf("unknown control field %q", s)
}

// MarshalText encodes the field by name.
func (f ControlField) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown control field %d", uint8(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText decodes a field name.
func (f *ControlField) UnmarshalText(b []byte) error {
	v, err := ParseControlField(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// FieldSet is a bitset of control fields. It is used both for device
// capabilities and for the fields a control event constrains.
type FieldSet uint16

// NewFieldSet builds a set from the given fields.
func NewFieldSet(fields ...ControlField) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s = s.With(f)
	}
	return s
}

// AllFieldSet contains every known field.
func AllFieldSet() FieldSet { return FieldSet(1<<fieldCount - 1) }

// With returns a copy of s including f.
func (s FieldSet) With(f ControlField) FieldSet {
	if !f.Valid() {
		return s
	}
	return s | 1<<f
}

// Has reports whether f is in the set.
func (s FieldSet) Has(f ControlField) bool {
	return f.Valid() && s&(1<<f) != 0
}

// Fields lists the members of s in declaration order.
func (s FieldSet) Fields() []ControlField {
	var out []ControlField
	for f := ControlField(0); f < fieldCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	names := make([]string, 0, NumFields)
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}

// ParseFieldSet builds a set from field names. An empty list yields AllFieldSet.
func ParseFieldSet(names []string) (FieldSet, error) {
	if len(names) == 0 {
		return AllFieldSet(), nil
	}
	var s FieldSet
	for _, n := range names {
		f, err := ParseControlField(n)
		if err != nil {
			return 0, err
		}
		s = s.With(f)
	}
	return s, nil
}
