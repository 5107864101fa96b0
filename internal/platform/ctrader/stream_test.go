package ctrader

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelfx/sentinel/internal/domain"
	"github.com/sentinelfx/sentinel/internal/platform/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testStream() *eventStream {
	sc := clock.New(domain.PlatformCTrader, "1001", nil, discardLogger())
	return newEventStream(Config{WSHost: "wss://example.invalid"}, sc, discardLogger())
}

func TestStreamEmitConcurrentWithCloseDoesNotPanic(t *testing.T) {
	s := testStream()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			s.emit(domain.AccountEvent{Kind: domain.EventQuote, Symbol: "EURUSD"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			// drain so the emitter keeps hitting the send path
			select {
			case <-s.events:
			default:
			}
		}
		s.close()
	}()
	wg.Wait()

	// The channel must be closed exactly once and safe to drain afterwards.
	for range s.events {
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s := testStream()
	s.close()
	require.NotPanics(t, s.close)

	// emit after close is a no-op, never a send on the closed channel
	require.NotPanics(t, func() {
		s.emit(domain.AccountEvent{Kind: domain.EventExecution, Symbol: "XAUUSD"})
	})

	_, open := <-s.events
	assert.False(t, open)
}

func TestStreamDropsEventsWhenBufferFull(t *testing.T) {
	s := testStream()
	defer s.close()

	for i := 0; i < eventBuffer+8; i++ {
		s.emit(domain.AccountEvent{Kind: domain.EventQuote, Symbol: "EURUSD"})
	}
	assert.Equal(t, eventBuffer, len(s.events), "overflow events are dropped, not queued")
}

func TestStreamHandleFrameRouting(t *testing.T) {
	s := testStream()
	defer s.close()

	spot, err := json.Marshal(spotEvent{SymbolName: "EURUSD", TimestampMs: 1_700_000_000_000})
	require.NoError(t, err)
	frame, err := json.Marshal(wsFrame{PayloadType: payloadSpotEvent, Payload: spot})
	require.NoError(t, err)
	s.handleFrame(frame)

	exec, err := json.Marshal(executionEvent{ExecutionType: "ORDER_FILLED", SymbolName: "XAUUSD"})
	require.NoError(t, err)
	frame, err = json.Marshal(wsFrame{PayloadType: payloadExecutionEvent, Payload: exec})
	require.NoError(t, err)
	s.handleFrame(frame)

	// heartbeats and garbage produce no events
	frame, err = json.Marshal(wsFrame{PayloadType: payloadHeartbeat})
	require.NoError(t, err)
	s.handleFrame(frame)
	s.handleFrame([]byte("not json"))

	require.Equal(t, 2, len(s.events))
	ev := <-s.events
	assert.Equal(t, domain.EventQuote, ev.Kind)
	assert.Equal(t, "EURUSD", ev.Symbol)
	ev = <-s.events
	assert.Equal(t, domain.EventExecution, ev.Kind)
	assert.Equal(t, "XAUUSD", ev.Symbol)
}
