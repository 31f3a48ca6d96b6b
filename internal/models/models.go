// Package models holds the rows stored in the local history database.
package models

import (
	"database/sql"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
)

// NullString is a nullable text column that encodes to JSON as a string or
// as null.
type NullString struct {
	sql.NullString
}

// NewNullString returns a valid value for s, or a null value when s is empty.
func NewNullString(s string) NullString {
	return NullString{sql.NullString{String: s, Valid: s != ""}}
}

func (v NullString) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.String)
}

func (v *NullString) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithStack(err)
	}
	*v = NullString{}
	if s != nil {
		v.String, v.Valid = *s, true
	}
	return nil
}
