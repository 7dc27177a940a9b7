package bridge

import (
	"crypto/subtle"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slapchain/oracled/internal/model"
)

const detachedWriteWait = 5 * time.Second

var errNotConnected = errors.New("detached window not connected")

// Conn is the slice of *websocket.Conn the detached transport needs; tests
// substitute a fake.
type Conn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DetachedTransport reaches the game instance in a separately opened window.
// The window is tracked from the moment of undock, but the transport is ready
// only once the window has connected its websocket back to us. Writes are
// serialized under a mutex with a deadline; a concurrent writer on a gorilla
// connection is a protocol violation.
type DetachedTransport struct {
	token string

	mu     sync.Mutex
	conn   Conn
	closed atomic.Bool
}

func NewDetachedTransport(token string) *DetachedTransport {
	return &DetachedTransport{token: token}
}

func (t *DetachedTransport) Channel() model.Channel {
	return model.ChannelDetached
}

// Token is the provenance handle minted at undock time. The popup presents it
// when connecting.
func (t *DetachedTransport) Token() string {
	return t.token
}

// Bind attaches the window's websocket connection, making the transport
// ready.
func (t *DetachedTransport) Bind(conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	t.closed.Store(false)
}

func (t *DetachedTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && !t.closed.Load()
}

// Alive distinguishes "opened but window since died" from a live window. The
// hosting environment does not reliably push close events, so the bridge
// polls this.
func (t *DetachedTransport) Alive() bool {
	return t.Ready()
}

// MarkClosed records an out-of-band disconnect observed by the read pump.
func (t *DetachedTransport) MarkClosed() {
	t.closed.Store(true)
}

// Dead reports a transport that was bound once but whose window has since
// gone away.
func (t *DetachedTransport) Dead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && t.closed.Load()
}

func (t *DetachedTransport) Send(message any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed.Load() {
		return errNotConnected
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(detachedWriteWait)); err != nil {
		return err
	}
	if err := t.conn.WriteJSON(message); err != nil {
		t.closed.Store(true)
		return err
	}
	return nil
}

// Ping probes the window over a control frame. Used by the liveness poller.
func (t *DetachedTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed.Load() {
		return errNotConnected
	}
	if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(detachedWriteWait)); err != nil {
		t.closed.Store(true)
		return err
	}
	return nil
}

func (t *DetachedTransport) ValidateSource(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(t.token)) == 1
}

func (t *DetachedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed.Store(true)
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

var _ Transport = (*DetachedTransport)(nil)
