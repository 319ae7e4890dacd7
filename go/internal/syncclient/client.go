package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

// State is the client's connection state
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("client closed")
)

// Dialer opens WebSocket transports. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds client settings
type Config struct {
	// URL of the server's WebSocket endpoint, e.g. ws://localhost:8080/ws
	URL            string
	RoomID         string
	Role           string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		URL:            "ws://localhost:8080/ws",
		Role:           "display",
		ReconnectDelay: 2 * time.Second,
		DialTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Client keeps one live transport to the timer server, reconnecting after a
// fixed delay when it drops. Every dial carries a generation number and any
// callback from an older generation is discarded, so there is never more than
// one live transport or one pending reconnect.
type Client struct {
	config    Config
	dialer    Dialer
	clock     clockwork.Clock
	estimator *Estimator

	mu             sync.Mutex
	state          State
	generation     uint64
	conn           *websocket.Conn
	reconnectTimer clockwork.Timer
	started        bool
	closed         bool

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex

	onState    func(State)
	onSnapshot func(countdown.Snapshot)
}

// NewClient creates a client. Call Start to connect.
func NewClient(config Config, dialer Dialer, clock clockwork.Clock) *Client {
	defaults := DefaultConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		config:    config,
		dialer:    dialer,
		clock:     clock,
		estimator: NewEstimator(),
		state:     StateConnecting,
	}
}

// OnState registers a callback for state changes. Set it before Start.
func (c *Client) OnState(fn func(State)) {
	c.onState = fn
}

// OnSnapshot registers a callback for accepted snapshots. Set it before
// Start.
func (c *Client) OnSnapshot(fn func(countdown.Snapshot)) {
	c.onSnapshot = fn
}

// Estimator returns the client's live countdown estimator
func (c *Client) Estimator() *Estimator {
	return c.estimator
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins connecting in the background
func (c *Client) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.connect(StateConnecting)
	return nil
}

func (c *Client) connect(state State) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	target, err := c.targetLocked()
	changed := c.setStateLocked(state)
	c.mu.Unlock()

	c.notify(changed, state)

	if err != nil {
		log.Error().Err(err).Str("url", c.config.URL).Msg("invalid server URL")
		return
	}
	go c.dial(gen, target)
}

func (c *Client) targetLocked() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if c.config.RoomID != "" {
		q.Set("room", c.config.RoomID)
	}
	if c.config.Role != "" {
		q.Set("role", c.config.Role)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(gen uint64, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, target, nil)

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		changed := c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.notify(changed, StateReconnecting)
		log.Warn().Err(err).Str("url", target).Dur("retry_in", c.config.ReconnectDelay).Msg("dial failed")
		return
	}
	c.conn = conn
	changed := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.notify(changed, StateConnected)
	log.Info().Str("url", target).Uint64("generation", gen).Msg("connected to timer server")

	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(gen, conn, err)
			return
		}
		c.handle(gen, data)
	}
}

func (c *Client) handle(gen uint64, data []byte) {
	c.mu.Lock()
	current := !c.closed && gen == c.generation
	c.mu.Unlock()
	if !current {
		return
	}

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed server message")
		return
	}
	if env.Type != "snapshot" {
		return
	}

	var snap countdown.Snapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed snapshot")
		return
	}
	if _, err := countdown.ParseStatus(string(snap.Status)); err != nil {
		log.Debug().Err(err).Str("room_id", snap.RoomID).Msg("ignoring snapshot")
		return
	}

	if c.estimator.Observe(snap, c.clock.Now()) && c.onSnapshot != nil {
		c.onSnapshot(snap)
	}
}

func (c *Client) lost(gen uint64, conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	changed := c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.notify(changed, StateReconnecting)
	log.Warn().Err(err).Dur("retry_in", c.config.ReconnectDelay).Msg("connection lost")
}

// scheduleReconnectLocked arms the single reconnect timer unless one is
// already pending.
func (c *Client) scheduleReconnectLocked() bool {
	changed := c.setStateLocked(StateReconnecting)
	if c.reconnectTimer != nil {
		return changed
	}
	c.reconnectTimer = c.clock.AfterFunc(c.config.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.connect(StateReconnecting)
	})
	return changed
}

func (c *Client) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Client) notify(changed bool, s State) {
	if changed && c.onState != nil {
		c.onState(s)
	}
}

// Join moves the client to another room and/or role. The live transport is
// kept; reconnects use the new target. The estimate is cleared until the
// new room's first snapshot arrives.
func (c *Client) Join(roomID, role string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.config.RoomID = roomID
	c.config.Role = role
	c.mu.Unlock()

	c.estimator.Reset()

	err := c.Send("join", map[string]string{"roomId": roomID, "role": role})
	if errors.Is(err, ErrNotConnected) {
		// The next dial carries the new room in its query
		return nil
	}
	return err
}

// Send writes one message to the server
func (c *Client) Send(msgType string, payload any) error {
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// Close stops the client. Pending reconnects are cancelled and late
// callbacks from the old transport are ignored.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.notify(changed, StateClosed)

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
