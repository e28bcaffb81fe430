package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/sfroehler/docmatch/helper"
)

// Metadata is an opaque JSONB bag (legal flags, contact details). The
// matcher stores and returns it untouched and never matches on its contents.
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}
	return json.Unmarshal(b, m)
}
