package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sfroehler/docmatch/helper"
)

// EntityKind names the two record kinds resolution operates on.
type EntityKind string

const (
	EntityKindPerson   EntityKind = "person"
	EntityKindLocation EntityKind = "location"
)

// Valid reports whether the kind is one of the two supported kinds.
func (k EntityKind) Valid() bool {
	return k == EntityKindPerson || k == EntityKindLocation
}

// FieldMapping is a flat mapping of extracted field names to string values.
// Absent fields are missing keys, never empty strings.
type FieldMapping map[string]string

// Value implements the driver.Valuer interface for database storage
func (f FieldMapping) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements the sql.Scanner interface for database retrieval
func (f *FieldMapping) Scan(value interface{}) error {
	if value == nil {
		*f = FieldMapping{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}
	return json.Unmarshal(b, f)
}

// Has reports whether all given fields are present and non-empty.
func (f FieldMapping) Has(keys ...string) bool {
	for _, k := range keys {
		if f[k] == "" {
			return false
		}
	}
	return true
}

// fieldSynonyms maps extracted key variants onto the canonical vocabulary
// the deterministic and semantic tiers query on.
var fieldSynonyms = map[string]string{
	"street_address":    "address",
	"organization_name": "name",
}

// Normalize flattens nested address-like substructures and renames known
// synonyms so both matching tiers operate on one canonical vocabulary.
// Nested values arrive when an assist returns e.g.
// {"address": {"street_address": "...", "city": "..."}} despite the flat
// schema; their string leaves are merged into the top level.
func (f FieldMapping) Normalize() FieldMapping {
	normalized := FieldMapping{}
	for key, value := range f {
		if value == "" {
			continue
		}

		// Values that are themselves JSON objects are flattened into
		// the parent mapping.
		if strings.HasPrefix(strings.TrimSpace(value), "{") {
			var nested map[string]interface{}
			if err := json.Unmarshal([]byte(value), &nested); err == nil {
				for nk, nv := range nested {
					s, ok := nv.(string)
					if !ok || s == "" {
						continue
					}
					normalized[canonicalField(nk)] = s
				}
				continue
			}
		}

		normalized[canonicalField(key)] = value
	}
	return normalized
}

func canonicalField(key string) string {
	if mapped, ok := fieldSynonyms[key]; ok {
		return mapped
	}
	return key
}

// SearchText builds the identity string embedded for the semantic tier:
// name tokens for persons, name plus address parts for locations.
// Returns "" when no identity field is present.
func (f FieldMapping) SearchText(kind EntityKind) string {
	var keys []string
	switch kind {
	case EntityKindPerson:
		keys = []string{"first_name", "last_name"}
	case EntityKindLocation:
		keys = []string{"name", "address", "city", "state"}
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := f[k]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// dobLayouts are the accepted date-of-birth string forms.
var dobLayouts = []string{"2006-01-02", "01/02/2006"}

// ParseDOB parses a date of birth in YYYY-MM-DD or MM/DD/YYYY form.
// Returns nil for an empty or unparseable value.
func ParseDOB(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dobLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
