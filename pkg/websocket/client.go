package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apperrors "github.com/zfogg/emoine/pkg/errors"
	"github.com/zfogg/emoine/pkg/logger"
	"github.com/zfogg/emoine/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Buffered events waiting for the dispatcher
	eventBufferSize = 256
)

// ErrClosed is returned by operations on a socket after Close
var ErrClosed = apperrors.ClosedError()

var tracer = otel.Tracer("github.com/zfogg/emoine/pkg/websocket")

// Config holds WebSocket client configuration
type Config struct {
	Host   string
	Port   int
	Path   string
	UseTLS bool

	// Per-attempt limit for the TCP dial and upgrade handshake
	ConnectTimeoutMs int

	// Wait before the first retry; 0 picks 1000ms plus up to 4000ms of jitter
	MinReconnectionDelayMs int
	MaxReconnectionDelayMs int
	ReconnectionGrowFactor float64

	// Retries after the initial attempt; -1 is unlimited
	MaxRetries int

	// A connection must stay open this long before the retry count resets
	MinUptimeMs int

	// Ping interval; 0 disables heartbeats and read deadlines
	HeartbeatIntervalMs int

	// Sends queued while not open; -1 is unlimited
	MaxEnqueuedMessages int

	// Extra handshake headers
	Header http.Header
}

// DefaultConfig returns the local development endpoint ws://localhost:80/api/ws
func DefaultConfig() Config {
	return Config{
		Host:                   "localhost",
		Port:                   80,
		Path:                   "/api/ws",
		UseTLS:                 false,
		ConnectTimeoutMs:       4000,
		MinReconnectionDelayMs: 0,
		MaxReconnectionDelayMs: 10000,
		ReconnectionGrowFactor: 1.3,
		MaxRetries:             -1, // unlimited
		MinUptimeMs:            5000,
		HeartbeatIntervalMs:    30000,
		MaxEnqueuedMessages:    -1, // unlimited
	}
}

// ProductionConfig returns a TLS configuration for a public host
func ProductionConfig(host string) Config {
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = 443
	cfg.UseTLS = true
	return cfg
}

// URL returns the target address built from the config
func (c Config) URL() string {
	scheme := "ws"
	if c.UseTLS {
		scheme = "wss"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Path,
	}
	return u.String()
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	MessagesReceived int64     `json:"messages_received"`
	MessagesSent     int64     `json:"messages_sent"`
	BytesReceived    int64     `json:"bytes_received"`
	BytesSent        int64     `json:"bytes_sent"`
	Opens            int64     `json:"opens"`
	ReconnectCount   int       `json:"reconnect_count"`
	LastError        string    `json:"last_error,omitempty"`
	ConnectedAt      time.Time `json:"connected_at"`
	DisconnectedAt   time.Time `json:"disconnected_at"`
}

type listenerEntry struct {
	fn Listener
}

type subscriber struct {
	ch chan Event
}

// Socket is a WebSocket connection that reconnects on failure.
//
// Events are delivered by a single dispatcher goroutine, one at a time and
// in the order they occurred. Listeners must not block for long: while one
// runs, later events wait.
type Socket struct {
	id       string
	config   Config
	url      string
	minDelay time.Duration

	mu          sync.RWMutex
	conn        *websocket.Conn
	state       ReadyState
	stateCh     chan struct{}
	binaryType  BinaryType
	queue       [][]byte
	queuedBytes int
	retryCount  int
	started     bool
	closed      bool
	closeCode   int
	closeReason string
	reconnect   *Event

	// Serializes frame writes; gorilla allows one concurrent writer
	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[EventType][]*listenerEntry
	subscribers map[*subscriber]struct{}

	events       chan Event
	kick         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	dispatchDone chan struct{}

	statsLock sync.RWMutex
	stats     ConnectionStats
}

// NewSocket creates a socket for the configured endpoint. No connection is
// attempted until Start.
func NewSocket(config Config) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		id:           uuid.NewString(),
		config:       config,
		url:          config.URL(),
		minDelay:     jitteredMinDelay(config.MinReconnectionDelayMs),
		state:        StateClosed,
		stateCh:      make(chan struct{}),
		binaryType:   BinaryTypeText,
		retryCount:   -1,
		listeners:    make(map[EventType][]*listenerEntry),
		subscribers:  make(map[*subscriber]struct{}),
		events:       make(chan Event, eventBufferSize),
		kick:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}
}

// ID returns the unique identifier of this socket instance
func (s *Socket) ID() string {
	return s.id
}

// URL returns the target address
func (s *Socket) URL() string {
	return s.url
}

// BinaryType returns the transfer mode used for outgoing payloads
func (s *Socket) BinaryType() BinaryType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binaryType
}

// SetBinaryType changes the transfer mode for subsequent sends
func (s *Socket) SetBinaryType(b BinaryType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binaryType = b
}

// ReadyState returns the current connection state
func (s *Socket) ReadyState() ReadyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected returns true if the connection is open
func (s *Socket) IsConnected() bool {
	return s.ReadyState() == StateOpen
}

// RetryCount returns the number of retries since the last stable connection
func (s *Socket) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.retryCount < 0 {
		return 0
	}
	return s.retryCount
}

// BufferedAmount returns the number of payload bytes queued for sending
func (s *Socket) BufferedAmount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queuedBytes
}

// Stats returns connection statistics
func (s *Socket) Stats() ConnectionStats {
	s.statsLock.RLock()
	defer s.statsLock.RUnlock()
	return s.stats
}

// Done is closed once the socket has stopped and every event was delivered
func (s *Socket) Done() <-chan struct{} {
	return s.dispatchDone
}

// AddEventListener registers fn for events of type t. The returned function
// removes the registration.
func (s *Socket) AddEventListener(t EventType, fn Listener) func() {
	entry := &listenerEntry{fn: fn}

	s.listenersMu.Lock()
	s.listeners[t] = append(s.listeners[t], entry)
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()

			entries := s.listeners[t]
			for i, e := range entries {
				if e == entry {
					s.listeners[t] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribe returns a channel receiving every event. Delivery never blocks
// the dispatcher: when the buffer is full the event is dropped for this
// subscriber. The channel is closed by the returned cancel function or when
// the socket stops.
func (s *Socket) Subscribe(buffer int) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer)}

	s.listenersMu.Lock()
	select {
	case <-s.dispatchDone:
		s.listenersMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}
	s.subscribers[sub] = struct{}{}
	s.listenersMu.Unlock()

	return sub.ch, func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		if _, ok := s.subscribers[sub]; ok {
			delete(s.subscribers, sub)
			close(sub.ch)
		}
	}
}

// Start begins connecting in the background and returns immediately. The
// socket is closed when ctx is canceled. Calling Start again has no effect.
func (s *Socket) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	context.AfterFunc(ctx, func() {
		_ = s.Close(CloseNormalClosure, "context canceled")
	})

	go s.dispatchLoop()
	go s.run()
}

// WaitOpen blocks until the connection is open, the socket stops, or ctx ends
func (s *Socket) WaitOpen(ctx context.Context) error {
	for {
		s.mu.RLock()
		state, ch, closed := s.state, s.stateCh, s.closed
		s.mu.RUnlock()

		if state == StateOpen {
			return nil
		}
		if closed {
			return ErrClosed
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send writes data using the current transfer mode. While the connection is
// not open the payload is queued and flushed in order on the next open.
func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	conn := s.conn
	if conn == nil || s.state != StateOpen {
		limit := s.config.MaxEnqueuedMessages
		if limit >= 0 && len(s.queue) >= limit {
			s.mu.Unlock()
			return apperrors.QueueFullError(limit)
		}
		payload := make([]byte, len(data))
		copy(payload, data)
		s.queue = append(s.queue, payload)
		s.queuedBytes += len(payload)
		queued := len(s.queue)
		s.mu.Unlock()

		metrics.Get().SocketQueuedMessages.Set(float64(queued))
		logger.Debug("WebSocket send queued", "socket", s.id, "queued", queued)
		return nil
	}
	frameType := s.binaryType.frameType()
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.write(conn, frameType, data)
}

// Close stops the socket permanently, sending a close frame with code and
// reason if connected. It is safe to call more than once.
func (s *Socket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	started := s.started
	if conn != nil {
		s.setStateLocked(StateClosing)
	} else if !started {
		s.setStateLocked(StateClosed)
	}
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if !started {
		close(s.dispatchDone)
	}
	return nil
}

// Reconnect drops the current connection, if any, and connects again at
// once with a fresh retry count.
func (s *Socket) Reconnect(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.started {
		s.mu.Unlock()
		s.Start(context.Background())
		return nil
	}
	s.retryCount = -1
	conn := s.conn
	if conn != nil {
		s.reconnect = &Event{Type: EventClose, Code: code, Reason: reason, WasClean: true}
		s.setStateLocked(StateClosing)
	}
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// run owns dialing, reading and reconnecting. It is the only goroutine that
// emits events, and it closes the event queue when it returns.
func (s *Socket) run() {
	defer close(s.events)

	for {
		s.mu.Lock()
		if s.closed {
			s.setStateLocked(StateClosed)
			s.mu.Unlock()
			return
		}
		maxRetries := s.config.MaxRetries
		if maxRetries >= 0 && s.retryCount >= maxRetries {
			s.closed = true
			s.setStateLocked(StateClosed)
			s.mu.Unlock()
			s.cancel()
			logger.Warn("WebSocket max reconnection attempts reached", "socket", s.id, "url", s.url, "retries", maxRetries)
			return
		}
		s.retryCount++
		attempt := s.retryCount
		s.mu.Unlock()

		if delay := reconnectDelay(attempt, s.minDelay, s.maxDelay(), s.config.ReconnectionGrowFactor); delay > 0 {
			s.setState(StateReconnecting)
			metrics.Get().SocketReconnectsTotal.Inc()
			s.recordReconnect()
			logger.Debug("Reconnecting WebSocket", "socket", s.id, "attempt", attempt, "wait_ms", delay.Milliseconds())

			timer := time.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				continue
			case <-s.kick:
				timer.Stop()
				s.mu.Lock()
				s.retryCount = 0
				attempt = 0
				s.mu.Unlock()
			case <-timer.C:
			}
		}

		// This dial serves any Reconnect requested before it
		s.drainKick()
		s.setState(StateConnecting)
		conn, err := s.dial(attempt)
		if err != nil {
			if s.ctx.Err() != nil {
				s.emitUserClose(attempt)
				continue
			}
			s.recordError(err.Error())
			s.emit(Event{Type: EventError, Err: err, Attempt: attempt})
			s.emit(Event{Type: EventClose, Code: CloseAbnormalClosure, Reason: err.Error(), Attempt: attempt})
			continue
		}

		openedAt := time.Now()
		if !s.open(conn, attempt) {
			// Closed while the handshake completed
			_ = conn.Close()
			s.emitUserClose(attempt)
			continue
		}

		readErr := s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		if time.Since(openedAt) >= time.Duration(s.config.MinUptimeMs)*time.Millisecond {
			s.retryCount = 0
		}
		requested := s.reconnect
		s.reconnect = nil
		userClosed := s.closed
		s.setStateLocked(StateClosed)
		s.mu.Unlock()

		_ = conn.Close()
		metrics.Get().SocketOpen.Set(0)
		s.recordDisconnected()

		switch {
		case userClosed:
			s.emitUserClose(attempt)
		case requested != nil:
			requested.Attempt = attempt
			s.emit(*requested)
			s.mu.Lock()
			s.retryCount = -1
			s.mu.Unlock()
			s.drainKick()
		default:
			s.emitReadFailure(readErr, attempt)
		}
	}
}

func (s *Socket) drainKick() {
	select {
	case <-s.kick:
	default:
	}
}

func (s *Socket) maxDelay() time.Duration {
	return time.Duration(s.config.MaxReconnectionDelayMs) * time.Millisecond
}

func (s *Socket) dial(attempt int) (*websocket.Conn, error) {
	timeout := time.Duration(s.config.ConnectTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = writeWait
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "websocket.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ws.url", s.url),
			attribute.String("ws.socket", s.id),
			attribute.Int("ws.attempt", attempt),
		),
	)
	defer span.End()

	logger.Debug("Dialing WebSocket", "socket", s.id, "url", s.url, "attempt", attempt)
	conn, resp, err := dialer.DialContext(ctx, s.url, s.config.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return conn, nil
}

// open publishes conn, flushes queued sends and emits the open event. It
// returns false if the socket was closed meanwhile.
func (s *Socket) open(conn *websocket.Conn, attempt int) bool {
	s.writeMu.Lock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return false
	}
	s.conn = conn
	queue := s.queue
	s.queue = nil
	s.queuedBytes = 0
	frameType := s.binaryType.frameType()
	s.setStateLocked(StateOpen)
	s.mu.Unlock()

	s.prepareHeartbeat(conn)
	metrics.Get().SocketOpen.Set(1)
	metrics.Get().SocketQueuedMessages.Set(0)
	s.recordConnected()

	for _, payload := range queue {
		if err := s.write(conn, frameType, payload); err != nil {
			logger.Warn("Failed to flush queued message", "socket", s.id, "error", err)
			break
		}
	}
	s.writeMu.Unlock()

	s.drainKick()
	logger.Debug("WebSocket connected", "socket", s.id, "url", s.url, "flushed", len(queue))
	s.emit(Event{Type: EventOpen, Attempt: attempt})
	return true
}

// write sends one frame; the caller holds writeMu.
func (s *Socket) write(conn *websocket.Conn, frameType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(frameType, data); err != nil {
		s.recordError(err.Error())
		return apperrors.ConnectionError("WebSocket write failed", err)
	}
	s.recordMessageSent(len(data))
	metrics.Get().SocketBytesTotal.WithLabelValues("sent").Add(float64(len(data)))
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go s.heartbeatLoop(conn, stop)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.extendReadDeadline(conn)

		s.recordMessageReceived(len(data))
		metrics.Get().SocketBytesTotal.WithLabelValues("received").Add(float64(len(data)))
		s.emit(Event{Type: EventMessage, Data: data, MessageType: messageType})
	}
}

func (s *Socket) heartbeatInterval() time.Duration {
	return time.Duration(s.config.HeartbeatIntervalMs) * time.Millisecond
}

func (s *Socket) prepareHeartbeat(conn *websocket.Conn) {
	if s.heartbeatInterval() <= 0 {
		return
	}
	s.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(conn)
		return nil
	})
}

func (s *Socket) extendReadDeadline(conn *websocket.Conn) {
	if interval := s.heartbeatInterval(); interval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * interval))
	}
}

func (s *Socket) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	interval := s.heartbeatInterval()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("Failed to send heartbeat", "socket", s.id, "error", err)
				return
			}
		}
	}
}

func (s *Socket) emitUserClose(attempt int) {
	s.mu.RLock()
	code, reason := s.closeCode, s.closeReason
	s.mu.RUnlock()
	s.emit(Event{Type: EventClose, Code: code, Reason: reason, WasClean: true, Attempt: attempt})
}

func (s *Socket) emitReadFailure(err error, attempt int) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		s.emit(Event{Type: EventClose, Code: ce.Code, Reason: ce.Text, WasClean: true, Attempt: attempt})
		return
	}

	s.recordError(err.Error())
	s.emit(Event{Type: EventError, Err: err, Attempt: attempt})
	s.emit(Event{Type: EventClose, Code: CloseAbnormalClosure, Reason: err.Error(), Attempt: attempt})
}

func (s *Socket) emit(ev Event) {
	ev.Time = time.Now()
	s.events <- ev
}

func (s *Socket) dispatchLoop() {
	defer s.closeSubscribers()
	for ev := range s.events {
		s.dispatch(ev)
	}
}

// dispatch runs listeners for ev synchronously, then offers ev to subscribers.
func (s *Socket) dispatch(ev Event) {
	metrics.Get().SocketEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	s.listenersMu.RLock()
	entries := append([]*listenerEntry(nil), s.listeners[ev.Type]...)
	s.listenersMu.RUnlock()

	for _, entry := range entries {
		s.invoke(entry.fn, ev)
	}

	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			metrics.Get().SubscriberDroppedTotal.Inc()
		}
	}
}

func (s *Socket) invoke(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("WebSocket listener panicked", "socket", s.id, "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

func (s *Socket) closeSubscribers() {
	s.listenersMu.Lock()
	for sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, sub)
	}
	close(s.dispatchDone)
	s.listenersMu.Unlock()
}

func (s *Socket) setState(state ReadyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state)
}

// setStateLocked records state and wakes WaitOpen callers; s.mu must be held.
func (s *Socket) setStateLocked(state ReadyState) {
	if s.state == state {
		return
	}
	s.state = state
	close(s.stateCh)
	s.stateCh = make(chan struct{})
}

func (s *Socket) recordMessageReceived(n int) {
	s.statsLock.Lock()
	s.stats.MessagesReceived++
	s.stats.BytesReceived += int64(n)
	s.statsLock.Unlock()
}

func (s *Socket) recordMessageSent(n int) {
	s.statsLock.Lock()
	s.stats.MessagesSent++
	s.stats.BytesSent += int64(n)
	s.statsLock.Unlock()
}

func (s *Socket) recordReconnect() {
	s.statsLock.Lock()
	s.stats.ReconnectCount++
	s.statsLock.Unlock()
}

func (s *Socket) recordError(errMsg string) {
	s.statsLock.Lock()
	s.stats.LastError = errMsg
	s.statsLock.Unlock()
}

func (s *Socket) recordConnected() {
	s.statsLock.Lock()
	s.stats.Opens++
	s.stats.ConnectedAt = time.Now()
	s.statsLock.Unlock()
}

func (s *Socket) recordDisconnected() {
	s.statsLock.Lock()
	s.stats.DisconnectedAt = time.Now()
	s.statsLock.Unlock()
}
