package models

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RecordID is a typed ID for agent data records
type RecordID struct {
	uuid uuid.UUID
}

func NewRecordID() RecordID {
	return RecordID{uuid: uuid.New()}
}

func ParseRecordID(s string) (RecordID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid record ID: %w", err)
	}
	return RecordID{uuid: id}, nil
}

func (r RecordID) UUID() uuid.UUID { return r.uuid }
func (r RecordID) String() string  { return r.uuid.String() }
func (r RecordID) IsZero() bool    { return r.uuid == uuid.Nil }

func (r RecordID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.uuid.String())
}

func (r *RecordID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	r.uuid = id
	return nil
}

func (r RecordID) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.uuid.String(), nil
}

func (r *RecordID) Scan(value any) error {
	return scanUUID(value, &r.uuid)
}

func (RecordID) GormDataType() string { return "uuid" }

func scanUUID(value any, dst *uuid.UUID) error {
	switch v := value.(type) {
	case nil:
		*dst = uuid.Nil
		return nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*dst = id
		return nil
	case []byte:
		if len(v) == 16 {
			id, err := uuid.FromBytes(v)
			if err != nil {
				return err
			}
			*dst = id
			return nil
		}
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		*dst = id
		return nil
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
}
