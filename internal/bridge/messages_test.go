package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

func TestTriggerAgent_WireShape(t *testing.T) {
	data, err := Encode(TriggerAgent(domain.CardEvent{IssueKey: "PROJ-12", Column: domain.ColumnQA}))
	require.NoError(t, err)

	assert.JSONEq(t, `{"action":"triggerAgent","issueKey":"PROJ-12","status":"qa"}`, string(data))
}

func TestDecode_TriggerAgent(t *testing.T) {
	msg, err := Decode([]byte(`{"action":"triggerAgent","issueKey":"PROJ-3","status":"in progress","hasTestedLabel":true}`))
	require.NoError(t, err)

	ev, err := msg.CardEvent()
	require.NoError(t, err)
	assert.Equal(t, domain.CardEvent{IssueKey: "PROJ-3", Column: domain.ColumnInProgress, TestedMarker: true}, ev)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{`, ErrInvalidMessage},
		{"unknown action", `{"action":"reboot"}`, ErrUnknownAction},
		{"bad key", `{"action":"triggerAgent","issueKey":"proj-1","status":"qa"}`, ErrInvalidMessage},
		{"missing status", `{"action":"triggerAgent","issueKey":"PROJ-1"}`, ErrInvalidMessage},
		{"untracked status", `{"action":"triggerAgent","issueKey":"PROJ-1","status":"done"}`, ErrInvalidMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCheckColumn(t *testing.T) {
	qa := CheckColumn(domain.ColumnQA)
	assert.Equal(t, ActionCheckQAColumn, qa.Action)
	col, ok := qa.RequestedColumn()
	assert.True(t, ok)
	assert.Equal(t, domain.ColumnQA, col)

	ip := CheckColumn(domain.ColumnInProgress)
	assert.Equal(t, ActionCheckInProgressColumn, ip.Action)

	_, ok = TriggerAgent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA}).RequestedColumn()
	assert.False(t, ok)
}
