// Package bridge carries messages between the page side, which scans the
// board, and the background side, which dispatches to the backend. Messages
// are JSON objects discriminated by "action", in process or over a websocket.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// Action discriminates messages
type Action string

// Page -> background
const (
	ActionTriggerAgent Action = "triggerAgent"
)

// Background -> page
const (
	ActionCheckQAColumn         Action = "checkQAColumn"
	ActionCheckInProgressColumn Action = "checkInProgressColumn"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is the single wire shape. Only triggerAgent carries a payload.
type Message struct {
	Action         Action `json:"action"`
	IssueKey       string `json:"issueKey,omitempty"`
	Status         string `json:"status,omitempty"`
	HasTestedLabel bool   `json:"hasTestedLabel,omitempty"`
}

// TriggerAgent wraps a card event for the background side
func TriggerAgent(ev domain.CardEvent) Message {
	return Message{
		Action:         ActionTriggerAgent,
		IssueKey:       ev.IssueKey,
		Status:         string(ev.Column),
		HasTestedLabel: ev.TestedMarker,
	}
}

// CheckColumn asks the page side to rescan one column
func CheckColumn(col domain.Column) Message {
	if col == domain.ColumnQA {
		return Message{Action: ActionCheckQAColumn}
	}
	return Message{Action: ActionCheckInProgressColumn}
}

// Validate checks the message shape for its action
func (m Message) Validate() error {
	switch m.Action {
	case ActionTriggerAgent:
		_, err := m.CardEvent()
		return err
	case ActionCheckQAColumn, ActionCheckInProgressColumn:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
}

// CardEvent extracts the card event of a triggerAgent message
func (m Message) CardEvent() (domain.CardEvent, error) {
	if m.Action != ActionTriggerAgent {
		return domain.CardEvent{}, fmt.Errorf("%w: %s carries no card", ErrInvalidMessage, m.Action)
	}
	if !domain.ValidIssueKey(m.IssueKey) {
		return domain.CardEvent{}, fmt.Errorf("%w: issue key %q", ErrInvalidMessage, m.IssueKey)
	}
	col, err := domain.ParseColumn(m.Status)
	if err != nil {
		return domain.CardEvent{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return domain.CardEvent{IssueKey: m.IssueKey, Column: col, TestedMarker: m.HasTestedLabel}, nil
}

// RequestedColumn returns the column a check message asks to rescan
func (m Message) RequestedColumn() (domain.Column, bool) {
	switch m.Action {
	case ActionCheckQAColumn:
		return domain.ColumnQA, true
	case ActionCheckInProgressColumn:
		return domain.ColumnInProgress, true
	}
	return "", false
}

// Encode marshals a message for the wire
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals and validates a wire message
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
