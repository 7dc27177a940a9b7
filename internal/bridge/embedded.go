package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"sync"

	"github.com/slapchain/oracled/internal/model"
)

// DeliverFunc is the callback handle the embedded game exposes once loaded.
type DeliverFunc func(message []byte) error

// EmbeddedTransport reaches the game instance hosted inline in the current
// page. Delivery goes through a caller-supplied function handle, so the
// transport is ready only after SetDeliverFunc.
type EmbeddedTransport struct {
	token string

	mu      sync.RWMutex
	deliver DeliverFunc
}

var errNotLoaded = errors.New("embedded game not loaded")

func NewEmbeddedTransport(token string) *EmbeddedTransport {
	return &EmbeddedTransport{token: token}
}

func (t *EmbeddedTransport) Channel() model.Channel {
	return model.ChannelEmbedded
}

// SetDeliverFunc installs the delivery handle and marks the transport ready.
// A nil fn reverts to not-ready.
func (t *EmbeddedTransport) SetDeliverFunc(fn DeliverFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliver = fn
}

func (t *EmbeddedTransport) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deliver != nil
}

// Alive is always true while the transport is tracked; the embedded frame
// lives and dies with the hosting page itself.
func (t *EmbeddedTransport) Alive() bool {
	return true
}

func (t *EmbeddedTransport) Send(message any) error {
	t.mu.RLock()
	fn := t.deliver
	t.mu.RUnlock()
	if fn == nil {
		return errNotLoaded
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return fn(data)
}

func (t *EmbeddedTransport) ValidateSource(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(t.token)) == 1
}

func (t *EmbeddedTransport) Close() error {
	t.SetDeliverFunc(nil)
	return nil
}

var _ Transport = (*EmbeddedTransport)(nil)
