package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

const (
	// writeWait bounds control-frame writes (pings and the close frame)
	writeWait = 10 * time.Second

	// maxEventSize caps a single inbound frame. Preview images ride the same
	// socket as the JSON events, so this stays generous.
	maxEventSize = 8 * 1024 * 1024

	// eventBufferSize is the per-lease channel capacity. The watcher drains
	// continuously; the buffer only absorbs bursts.
	eventBufferSize = 256
)

// closedCallback tells the owning pool the stream is gone. requested is true
// for pool-initiated teardown, false for an unexpected close.
type closedCallback func(s *Stream, requested bool)

// Stream is one live websocket connection to a worker's event endpoint. It
// is single-tenant while lent: textual frames are delivered in arrival order
// on the lease channel, binary frames (image previews) are discarded, and
// frames arriving between leases are global status chatter nobody wants.
type Stream struct {
	id         string
	clientID   string
	workerName string
	conn       *websocket.Conn
	logger     logger.StyledLogger

	pingInterval time.Duration
	pongWait     time.Duration

	mu     sync.Mutex
	events chan []byte // non-nil only while lent

	connected atomic.Bool
	requested atomic.Bool
	evicted   atomic.Bool // pool accounting settled exactly once
	done      chan struct{}
	closeOnce sync.Once

	useCount   atomic.Int64
	dropped    atomic.Int64
	lastActive atomic.Int64 // unix nanos
	createdAt  time.Time

	onClosed closedCallback
}

// dial opens a websocket to the worker. Each stream carries its own client
// id; the worker scopes per-submission events to whichever id submitted.
func dial(ctx context.Context, worker *domain.Worker, connectTimeout, pingInterval time.Duration, onClosed closedCallback, styledLogger logger.StyledLogger) (*Stream, error) {
	clientID := uuid.NewString()
	endpoint := util.WebSocketURL(worker.GetURLString(), clientID)

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: connectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	s := &Stream{
		id:           uuid.NewString(),
		clientID:     clientID,
		workerName:   worker.Name,
		conn:         conn,
		logger:       styledLogger,
		pingInterval: pingInterval,
		pongWait:     2 * pingInterval,
		done:         make(chan struct{}),
		createdAt:    time.Now(),
		onClosed:     onClosed,
	}
	s.connected.Store(true)
	s.lastActive.Store(time.Now().UnixNano())

	go s.readPump()
	go s.pingLoop()

	return s, nil
}

func (s *Stream) ID() string        { return s.id }
func (s *Stream) ClientID() string  { return s.clientID }
func (s *Stream) Worker() string    { return s.workerName }
func (s *Stream) IsConnected() bool { return s.connected.Load() }

// Events returns the current lease channel. It is replaced on every acquire,
// so borrowers must look it up after acquiring, not cache it across leases.
// The channel is closed if the stream dies mid-lease.
func (s *Stream) Events() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// LastActive reports when the stream last saw traffic (frame or pong)
func (s *Stream) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Close tears the stream down. Safe to call more than once. Marks the close
// as requested so the pool does not schedule a redial.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.requested.Store(true)
		close(s.done)

		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
}

// beginLease installs a fresh event channel for a new borrower. Returns
// false when the stream died before the lease could start.
func (s *Stream) beginLease() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() {
		return false
	}

	s.events = make(chan []byte, eventBufferSize)
	s.useCount.Add(1)
	s.lastActive.Store(time.Now().UnixNano())
	return true
}

// endLease detaches the borrower's channel; later frames are discarded
func (s *Stream) endLease() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// failLease closes the active lease channel so a blocked borrower wakes up.
// Only the read pump calls this, after it has stopped sending.
func (s *Stream) failLease() {
	s.mu.Lock()
	ch := s.events
	s.events = nil
	s.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// readPump owns the connection's read side. It exits on the first read
// error, marks the stream disconnected and notifies the pool exactly once.
func (s *Stream) readPump() {
	defer func() {
		s.connected.Store(false)
		_ = s.conn.Close()
		s.failLease()
		if s.onClosed != nil {
			s.onClosed(s, s.requested.Load())
		}
	}()

	s.conn.SetReadLimit(maxEventSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.lastActive.Store(time.Now().UnixNano())
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				s.logger.Debug("Worker stream closed unexpectedly",
					"worker", s.workerName, "stream", s.id, "error", err)
			}
			return
		}

		s.lastActive.Store(time.Now().UnixNano())
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		// Binary frames are preview images; nothing downstream wants them
		if messageType != websocket.TextMessage {
			continue
		}

		s.deliver(payload)
	}
}

// deliver hands a textual frame to the current borrower. A stalled borrower
// loses events rather than wedging the pump.
func (s *Stream) deliver(payload []byte) {
	s.mu.Lock()
	ch := s.events
	s.mu.Unlock()

	if ch == nil {
		return
	}

	select {
	case ch <- payload:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("Stream event buffer full, dropping frame",
				"worker", s.workerName, "stream", s.id, "dropped", n)
		}
	}
}

// pingLoop probes liveness on the pool's health tick. WriteControl is safe
// alongside the read pump, and pings are the only writes this side sends.
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug("Stream ping failed",
					"worker", s.workerName, "stream", s.id, "error", err)
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
