package domain

import (
	"database/sql/driver"
	"errors"

	"github.com/goccy/go-json"
)

// StringArray stores a string slice as a JSON column.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return errors.New("failed to scan StringArray")
	}
	return json.Unmarshal(bytes, a)
}

// Author is a single paper author.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// Authors stores the author list as a JSON column.
type Authors []Author

// Value implements the driver.Valuer interface for database serialization.
func (a Authors) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *Authors) Scan(value interface{}) error {
	if value == nil {
		*a = Authors{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return errors.New("failed to scan Authors")
	}
	return json.Unmarshal(bytes, a)
}

// Names returns the author names in order.
func (a Authors) Names() []string {
	names := make([]string, 0, len(a))
	for _, author := range a {
		if author.Name != "" {
			names = append(names, author.Name)
		}
	}
	return names
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unexpected column type")
	}
}
