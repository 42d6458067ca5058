package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// Item lifecycle states. Failed runs return the item to pending so it can
// be picked up again.
const (
	ItemStatePending    = "pending"
	ItemStateProcessing = "processing"
	ItemStateCompleted  = "completed"
)

// Item is one tracked todo item routed through orchestration.
type Item struct {
	ID          uuid.UUID `db:"id"`
	Seq         int64     `db:"seq"`
	ExternalID  string    `db:"external_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	State       string    `db:"state"`

	// Analysis snapshot from the last classification.
	TaskType   string  `db:"task_type"`
	Confidence float64 `db:"confidence"`
	Suitable   bool    `db:"suitable"`

	// DoneOutput is the human-readable outcome written on completion.
	DoneOutput *string `db:"done_output"`

	Metadata    JSONB      `db:"metadata"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// ItemLog is one progress entry in an item's audit trail.
type ItemLog struct {
	ID        int64     `db:"id"`
	ItemID    uuid.UUID `db:"item_id"`
	Level     string    `db:"level"`
	Message   string    `db:"message"`
	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}
