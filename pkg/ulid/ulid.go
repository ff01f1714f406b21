// Package ulid wraps oklog/ulid with database/json marshaling so identifiers
// can round-trip through Postgres columns and API payloads without callers
// touching the underlying library directly.
package ulid

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a lexicographically sortable identifier, used wherever CrossBridge
// needs a new-ish-sorts-last ID rather than a fully random one (request
// IDs, run-id-adjacent internal identifiers).
type ID struct {
	ulid.ULID `json:"-"`
}

// New mints an ID stamped with the current time.
func New() ID {
	return ID{ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)}
}

// NewRequestID mints an ID for the HTTP request-ID middleware. Distinct
// name from New so call sites read as intent, not just "give me an ID".
func NewRequestID() string {
	return New().String()
}

// Parse parses an ID string.
func Parse(s string) (ID, error) {
	parsed, err := ulid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{parsed}, nil
}

func (id ID) String() string { return id.ULID.String() }

// Time returns the timestamp component of the ID.
func (id ID) Time() time.Time { return ulid.Time(id.ULID.Time()) }

func (id ID) IsZero() bool { return id.ULID == ulid.ULID{} }

// Scan implements sql.Scanner.
func (id *ID) Scan(value interface{}) error {
	if value == nil {
		*id = ID{}
		return nil
	}
	switch v := value.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ulid.ID", value)
	}
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.String(), nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid JSON for ulid.ID: %s", string(data))
	}
	str := string(data[1 : len(data)-1])
	if str == "null" || str == "" {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(str)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
