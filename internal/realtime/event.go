// Package realtime distributes change events to subscribed sessions.
//
// Delivery is at-most-once and best effort: a subscriber only sees
// events published while it is subscribed, and nothing is buffered for
// subscribers that were not connected. Callers that need the full state
// must subscribe first and then fetch it.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

type Table string

const (
	TableMessage     Table = "Message"
	TableChatRequest Table = "ChatRequest"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Event is the change envelope carried on every topic.
type Event struct {
	Table     Table           `json:"table"`
	Operation Operation       `json:"operation"`
	Row       json.RawMessage `json:"row"`
	At        time.Time       `json:"at"`
}

func NewEvent(table Table, op Operation, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s row: %w", table, err)
	}
	return Event{Table: table, Operation: op, Row: raw, At: time.Now().UTC()}, nil
}

// Decode unmarshals the event row into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Row, v)
}

// RoomTopic carries Message events for one room.
func RoomTopic(roomID string) string {
	return "room." + roomID
}

// UserTopic carries ChatRequest events addressed to or sent by one user.
func UserTopic(userID string) string {
	return "user." + userID
}
