package ctrader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentinelfx/sentinel/internal/domain"
	"github.com/sentinelfx/sentinel/internal/platform/clock"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	// eventBuffer absorbs bursts; when full, events are dropped because the
	// next poll cycle observes the same state anyway.
	eventBuffer = 16
)

// eventStream owns the Open API websocket session: auth, keep-alive,
// reconnect with backoff, and translation of raw frames into account
// events. Spot timestamps feed the server clock as a side channel.
type eventStream struct {
	cfg    Config
	clock  *clock.ServerClock
	logger *slog.Logger
	events chan domain.AccountEvent

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

func newEventStream(cfg Config, sc *clock.ServerClock, logger *slog.Logger) *eventStream {
	return &eventStream{
		cfg:    cfg,
		clock:  sc,
		logger: logger.With(slog.String("component", "ctrader_stream")),
		events: make(chan domain.AccountEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

// open dials the websocket, authenticates the account session, and starts
// the read and ping loops.
func (s *eventStream) open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("ctrader/stream: %w", domain.ErrWSDisconnect)
	}

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WSHost, nil)
	if err != nil {
		return fmt.Errorf("ctrader/stream: dial: %w", err)
	}
	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := s.send(authRequest{
		AccessToken:         s.cfg.AccessToken,
		CtidTraderAccountID: s.cfg.AccountID,
	}, payloadAuthReq); err != nil {
		conn.Close()
		s.conn = nil
		return fmt.Errorf("ctrader/stream: auth: %w", err)
	}

	go s.readLoop()
	go s.pingLoop()
	return nil
}

// close shuts the stream down and closes the events channel.
func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = s.conn.Close()
		s.conn = nil
	}
	close(s.events)
}

// send marshals a payload into the Open API frame envelope. Caller must
// hold s.mu.
func (s *eventStream) send(payload any, payloadType int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	frame, err := json.Marshal(wsFrame{PayloadType: payloadType, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *eventStream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.reconnect()
			return
		}
		s.handleFrame(message)
	}
}

func (s *eventStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one raw frame. Spot events feed the server clock;
// execution events additionally signal the monitor to re-evaluate.
func (s *eventStream) handleFrame(raw []byte) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return // drop unparseable frames
	}

	switch frame.PayloadType {
	case payloadSpotEvent:
		var ev spotEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			return
		}
		if ts := ev.time(); !ts.IsZero() {
			s.clock.Observe(context.Background(), ts)
		}
		s.emit(domain.AccountEvent{Kind: domain.EventQuote, Symbol: ev.SymbolName})

	case payloadExecutionEvent:
		var ev executionEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			return
		}
		s.emit(domain.AccountEvent{Kind: domain.EventExecution, Symbol: ev.SymbolName})

	case payloadError:
		var e wsError
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			return
		}
		s.logger.Warn("api error frame",
			slog.String("code", e.ErrorCode),
			slog.String("description", e.Description),
		)

	case payloadHeartbeat, payloadAuthRes:
		// keep-alive and auth ack, nothing to do
	}
}

// emit delivers an event without ever blocking the read loop. The send
// happens under s.mu so it can never interleave with close() closing the
// channel; the select stays non-blocking, so holding the lock is cheap.
func (s *eventStream) emit(ev domain.AccountEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// reconnect re-establishes the session with exponential backoff. It blocks
// until success or stream shutdown.
func (s *eventStream) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.open(ctx)
		cancel()
		if err == nil {
			s.logger.Info("stream reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
