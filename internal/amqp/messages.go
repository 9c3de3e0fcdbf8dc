package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"gastos/internal/core"
)

// Change operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent announces a write to a collection. It carries no record data;
// consumers read what they need from the backend.
type ChangeEvent struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	RecordID   core.ID   `json:"record_id,omitempty"`
	UserID     core.ID   `json:"user_id,omitempty"`
	Day        core.Date `json:"day"`
	Origin     string    `json:"origin,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeEvent creates an event with a fresh id and timestamp.
func NewChangeEvent(collection, op string, recordID, userID core.ID, day core.Date) *ChangeEvent {
	return &ChangeEvent{
		ID:         uuid.NewString(),
		Collection: collection,
		Op:         op,
		RecordID:   recordID,
		UserID:     userID,
		Day:        day,
		Timestamp:  time.Now(),
	}
}

// Month returns the year and month the change belongs to, or zeros when
// the event has no day.
func (m *ChangeEvent) Month() (int, int) {
	if m.Day.IsZero() {
		return 0, 0
	}
	return m.Day.Year(), int(m.Day.Month())
}

// ToJSON converts the message to JSON bytes
func (m *ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeEventFromJSON decodes and checks a message body.
func ChangeEventFromJSON(data []byte) (*ChangeEvent, error) {
	var msg ChangeEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Collection == "" {
		return nil, errors.New("change event without collection")
	}
	return &msg, nil
}
