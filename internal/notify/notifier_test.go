package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"breach"}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "breach", "DAILY_DD", "account ftmo-1"))
	require.NoError(t, n.Notify(context.Background(), "error", "fault", "ignored"))

	assert.Equal(t, []string{"DAILY_DD"}, s.titles)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "breach", "a", "m"))
	require.NoError(t, n.Notify(context.Background(), "error", "b", "m"))

	assert.Len(t, s.titles, 2)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "MAX_LOTS", "account ftmo-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"MAX_LOTS"}, good.titles)
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestConsoleSenderWritesLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleSenderTo(&buf)

	require.NoError(t, c.Send(context.Background(), "HARD DAILY_DD", "account ftmo-1"))

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "HARD DAILY_DD: account ftmo-1\n"), line)
	assert.Equal(t, "console", c.Name())
}
