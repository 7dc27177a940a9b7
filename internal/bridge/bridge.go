package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slapchain/oracled/internal/api"
	"github.com/slapchain/oracled/internal/model"
)

// ErrProvenanceRejected marks an inbound message whose claimed source does
// not match the tracked transport for its channel. Such messages are dropped
// with zero side effects.
var ErrProvenanceRejected = errors.New("inbound message failed source validation")

// Bridge owns the two transport endpoints and the channel handover state
// machine. All ChannelState access goes through one mutex because dock and
// undock actions race with transport-ready callbacks.
type Bridge struct {
	logger       *zap.Logger
	pollInterval time.Duration

	mu          sync.Mutex
	active      model.Channel
	embedded    *EmbeddedTransport
	detached    *DetachedTransport
	identity    model.WalletIdentity
	identitySet bool
}

func New(logger *zap.Logger, pollInterval time.Duration) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Bridge{
		logger:       logger.Named("bridge"),
		pollInterval: pollInterval,
		active:       model.ChannelNone,
	}
}

// StartSession tracks the embedded transport and makes it the active channel.
// Returns the provenance token the embedded page must present on every
// inbound message.
func (b *Bridge) StartSession() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.embedded == nil {
		b.embedded = NewEmbeddedTransport(uuid.NewString())
	}
	if b.active == model.ChannelNone {
		b.active = model.ChannelEmbedded
	}
	return b.embedded.token
}

// EmbeddedLoaded installs the embedded delivery handle. The transport becomes
// ready and immediately receives the latest mirrored identity so it never
// starts with a stale one.
func (b *Bridge) EmbeddedLoaded(fn DeliverFunc) {
	b.mu.Lock()
	if b.embedded == nil {
		b.embedded = NewEmbeddedTransport(uuid.NewString())
	}
	b.embedded.SetDeliverFunc(fn)
	target, msg := b.identityPushLocked(b.embedded)
	b.mu.Unlock()
	b.pushIdentity(target, msg)
}

// Undock flips the session to the detached window. Idempotent: undocking
// while already detached returns the existing token.
func (b *Bridge) Undock() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == model.ChannelDetached && b.detached != nil {
		b.logger.Debug("undock while already detached, no-op")
		return b.detached.Token()
	}
	b.detached = NewDetachedTransport(uuid.NewString())
	b.active = model.ChannelDetached
	b.logger.Info("channel handover", zap.String("active", string(b.active)))
	return b.detached.Token()
}

// BindDetached attaches the popup's websocket connection to the tracked
// detached transport. The token must match the one minted at undock.
func (b *Bridge) BindDetached(token string, conn Conn) error {
	b.mu.Lock()
	if b.detached == nil || !b.detached.ValidateSource(token) {
		b.mu.Unlock()
		return fmt.Errorf("%w: unknown detached session", ErrProvenanceRejected)
	}
	b.detached.Bind(conn)
	target, msg := b.identityPushLocked(b.detached)
	b.mu.Unlock()
	b.pushIdentity(target, msg)
	return nil
}

// Dock flips the session back to the embedded frame, closing the detached
// window's transport if still open. Idempotent.
func (b *Bridge) Dock() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == model.ChannelEmbedded || b.active == model.ChannelNone {
		b.logger.Debug("dock while not detached, no-op")
		return
	}
	b.dropDetachedLocked("dock")
}

// dropDetachedLocked closes and forgets the detached transport and reverts
// the active channel to embedded.
func (b *Bridge) dropDetachedLocked(cause string) {
	if b.detached != nil {
		_ = b.detached.Close()
		b.detached = nil
	}
	b.active = model.ChannelEmbedded
	b.logger.Info("channel handover",
		zap.String("active", string(b.active)),
		zap.String("cause", cause))
}

// ValidateInbound checks an inbound message's provenance against the tracked
// transport for its channel. Rejections are logged at warning level and the
// message must be dropped with no other side effects.
func (b *Bridge) ValidateInbound(channel model.Channel, token string) error {
	b.mu.Lock()
	var t Transport
	switch channel {
	case model.ChannelEmbedded:
		if b.embedded != nil {
			t = b.embedded
		}
	case model.ChannelDetached:
		if b.detached != nil {
			t = b.detached
		}
	}
	b.mu.Unlock()

	if t == nil || !t.ValidateSource(token) {
		b.logger.Warn("inbound message rejected",
			zap.String("code", model.ErrProvenanceRejected),
			zap.String("channel", string(channel)))
		return ErrProvenanceRejected
	}
	return nil
}

// Send attempts delivery on the active channel only, and only if it is
// ready. A non-ready channel makes the send a logged no-op; nothing is queued
// or retried, callers re-send after observing readiness.
func (b *Bridge) Send(message any) {
	b.mu.Lock()
	var t Transport
	switch b.active {
	case model.ChannelEmbedded:
		if b.embedded != nil {
			t = b.embedded
		}
	case model.ChannelDetached:
		if b.detached != nil {
			t = b.detached
		}
	}
	active := b.active
	b.mu.Unlock()

	if t == nil || !t.Ready() {
		b.logger.Debug("send skipped, channel not ready",
			zap.String("code", model.ErrChannelNotReady),
			zap.String("channel", string(active)))
		return
	}
	if err := t.Send(message); err != nil {
		b.logger.Debug("send failed",
			zap.String("channel", string(active)),
			zap.Error(err))
	}
}

// Deliver implements the dispatcher's outbound path.
func (b *Bridge) Deliver(resp model.OracleResponse) {
	msg := api.ProphecyNotification{
		Type: api.ProphecyNotificationType,
		Payload: api.ProphecyPayload{
			Title:               resp.Notification.Title,
			Message:             resp.Notification.Message,
			Duration:            resp.Notification.DurationMS,
			Style:               resp.Notification.Style,
			Effects:             resp.Notification.Effects,
			CorruptionInfluence: resp.CorruptionShift,
			NotificationID:      resp.ResponseID,
		},
	}
	b.Send(msg)
}

// SetIdentity records the auxiliary wallet identity and mirrors it to every
// channel currently ready, not just the active one, so a channel that becomes
// active later already holds the correct identity.
func (b *Bridge) SetIdentity(id model.WalletIdentity) {
	b.mu.Lock()
	b.identity = id
	b.identitySet = true
	msg := b.identityMessageLocked()
	targets := make([]Transport, 0, 2)
	if b.embedded != nil && b.embedded.Ready() {
		targets = append(targets, b.embedded)
	}
	if b.detached != nil && b.detached.Ready() {
		targets = append(targets, b.detached)
	}
	b.mu.Unlock()

	for _, t := range targets {
		b.pushIdentity(t, msg)
	}
}

// identityPushLocked prepares the latest-identity push for a transport that
// just became ready. Returns a nil transport when no identity has been set
// yet or the transport is not actually ready.
func (b *Bridge) identityPushLocked(t Transport) (Transport, api.WalletStatusMessage) {
	if !b.identitySet || t == nil || !t.Ready() {
		return nil, api.WalletStatusMessage{}
	}
	return t, b.identityMessageLocked()
}

func (b *Bridge) identityMessageLocked() api.WalletStatusMessage {
	return api.WalletStatusMessage{
		Type:      api.WalletStatusType,
		Connected: b.identity.Connected,
		Address:   b.identity.Address,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (b *Bridge) pushIdentity(t Transport, msg api.WalletStatusMessage) {
	if t == nil {
		return
	}
	if err := t.Send(msg); err != nil {
		b.logger.Debug("identity mirror failed",
			zap.String("channel", string(t.Channel())),
			zap.Error(err))
	}
}

// State snapshots the bridge for the status surface.
func (b *Bridge) State() model.ChannelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := model.ChannelState{
		Active:           b.active,
		MirroredIdentity: b.identity,
	}
	if b.embedded != nil {
		st.EmbeddedReady = b.embedded.Ready()
	}
	if b.detached != nil {
		st.DetachedReady = b.detached.Ready()
	}
	return st
}

// RunLiveness polls the detached window. Close is not reliably pushed by the
// hosting environment, so a dead window is detected here and the session
// reverts to the embedded channel as normal continuity, not an error.
func (b *Bridge) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollDetached()
		}
	}
}

func (b *Bridge) pollDetached() {
	b.mu.Lock()
	t := b.detached
	b.mu.Unlock()
	if t == nil {
		return
	}
	if t.Ready() {
		// Ping marks the transport closed when the window is gone.
		_ = t.Ping()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached != nil && b.detached.Dead() {
		b.dropDetachedLocked("window_closed")
	}
}

// DetachedGone reports an out-of-band disconnect (read pump error) and
// reverts to the embedded channel immediately instead of waiting for the next
// poll. The token names which window's pump is reporting: a pump that outlives
// a dock/undock cycle holds a stale token and must not tear down the window
// that replaced it.
func (b *Bridge) DetachedGone(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached == nil || !b.detached.ValidateSource(token) {
		return
	}
	b.detached.MarkClosed()
	if b.active == model.ChannelDetached {
		b.dropDetachedLocked("window_closed")
	}
}

// Close tears the session down: both transports are closed and the channel
// state is discarded.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.embedded != nil {
		_ = b.embedded.Close()
		b.embedded = nil
	}
	if b.detached != nil {
		_ = b.detached.Close()
		b.detached = nil
	}
	b.active = model.ChannelNone
}
