package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/go-arena/pkg/events"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	got      []events.Envelope
}

func (s *flakySink) Append(_ context.Context, env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("unavailable")
	}
	s.got = append(s.got, env)
	return nil
}

func TestGetWorkflowContext_OutsideActivity(t *testing.T) {
	b := NewBaseActivities(nil)
	wfCtx := b.GetWorkflowContext(context.Background())
	assert.Equal(t, "local", wfCtx.WorkflowID)
	assert.Equal(t, int32(1), wfCtx.Attempt)
}

func TestEmitEventSafe_RetriesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sink := &flakySink{failures: 1}
		b := NewBaseActivities(sink)

		b.EmitEventSafe(context.Background(), events.Envelope{Type: events.TypeConversationSubmitted}, "test")

		assert.Len(t, sink.got, 1)
		assert.Equal(t, "local", sink.got[0].WorkflowID)
	})
}

func TestEmitEventSafe_GivesUp(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sink := &flakySink{failures: 5}
		b := NewBaseActivities(sink)

		b.EmitEventSafe(context.Background(), events.Envelope{Type: events.TypeConversationSubmitted}, "test")

		assert.Empty(t, sink.got)
		assert.Equal(t, 3, sink.failures)
	})
}

func TestEmitEventSafe_NilSink(t *testing.T) {
	b := NewBaseActivities(nil)
	b.EmitEventSafe(context.Background(), events.Envelope{}, "noop")
}

func TestSafeHelpersOutsideActivity(t *testing.T) {
	ctx := context.Background()
	SafeLog(ctx, "info")
	SafeLogError(ctx, "error")
	RecordHeartbeat(ctx, 1)
}
