package bridge

import (
	"github.com/slapchain/oracled/internal/model"
)

// Transport is one delivery surface toward a game instance. The bridge logic
// is transport-agnostic; the embedded frame and the detached window differ
// only in how Send reaches the game.
type Transport interface {
	Channel() model.Channel

	// Ready reports whether the transport has confirmed load and exposes a
	// callable delivery surface.
	Ready() bool

	// Alive reports whether the far end still exists. A transport can be
	// not-ready yet alive (opened, not loaded) or dead outright (window
	// closed out-of-band).
	Alive() bool

	// Send delivers one outbound message. Callers check Ready first; Send
	// on a non-ready transport returns an error rather than queueing.
	Send(message any) error

	// ValidateSource checks an inbound message's claimed source against
	// this transport's tracked handle. This is a security boundary:
	// failures mean the message is dropped unconditionally.
	ValidateSource(token string) bool

	Close() error
}
