package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

func TestPipe_BothDirectionsInOrder(t *testing.T) {
	page, background := NewPipe(4)
	ctx := context.Background()

	require.NoError(t, page.Send(ctx, TriggerAgent(domain.CardEvent{IssueKey: "A-1", Column: domain.ColumnQA})))
	require.NoError(t, page.Send(ctx, TriggerAgent(domain.CardEvent{IssueKey: "A-2", Column: domain.ColumnQA})))
	require.NoError(t, background.Send(ctx, CheckColumn(domain.ColumnQA)))

	assert.Equal(t, "A-1", (<-background.Receive()).IssueKey)
	assert.Equal(t, "A-2", (<-background.Receive()).IssueKey)
	assert.Equal(t, ActionCheckQAColumn, (<-page.Receive()).Action)
}

func TestPipe_SendRespectsContext(t *testing.T) {
	page, _ := NewPipe(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := page.Send(ctx, CheckColumn(domain.ColumnQA))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipe_SendValidates(t *testing.T) {
	page, _ := NewPipe(1)
	err := page.Send(context.Background(), Message{Action: "nope"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}
