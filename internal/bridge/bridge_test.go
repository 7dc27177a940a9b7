package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/slapchain/oracled/internal/api"
	"github.com/slapchain/oracled/internal/model"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   []any
	pings    int
	writeErr error
	pingErr  error
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

// embeddedSink installs a capturing deliver handle and returns the captured
// raw messages.
func embeddedSink(b *Bridge) *[][]byte {
	var msgs [][]byte
	var mu sync.Mutex
	b.EmbeddedLoaded(func(message []byte) error {
		mu.Lock()
		defer mu.Unlock()
		msgs = append(msgs, message)
		return nil
	})
	return &msgs
}

func newBridge(t *testing.T) *Bridge {
	t.Helper()
	return New(zaptest.NewLogger(t), time.Hour)
}

func TestStartSessionActivatesEmbedded(t *testing.T) {
	b := newBridge(t)
	token := b.StartSession()
	require.NotEmpty(t, token)
	require.Equal(t, token, b.StartSession(), "token stable across repeated starts")

	st := b.State()
	require.Equal(t, model.ChannelEmbedded, st.Active)
	require.False(t, st.EmbeddedReady, "not ready until the game page loads")
}

func TestSendIsNoOpWhenNotReady(t *testing.T) {
	b := newBridge(t)
	b.StartSession()

	// Nothing is queued: a send before readiness vanishes, and readiness does
	// not replay it.
	b.Send(map[string]string{"type": "lost"})
	msgs := embeddedSink(b)
	require.Empty(t, *msgs)
}

func TestUndockHandover(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	msgs := embeddedSink(b)

	token := b.Undock()
	require.NotEmpty(t, token)
	require.Equal(t, token, b.Undock(), "undock is idempotent while detached")
	require.Equal(t, model.ChannelDetached, b.State().Active)

	// The detached window has not connected yet, so outbound traffic is
	// dropped rather than falling back to the embedded frame.
	b.Send(map[string]string{"type": "between-windows"})
	require.Empty(t, *msgs)

	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(token, conn))
	require.True(t, b.State().DetachedReady)

	b.Send(map[string]string{"type": "prophecy"})
	require.Len(t, conn.sent(), 1)
	require.Empty(t, *msgs, "embedded frame stays quiet while detached is active")
}

func TestBindDetachedRejectsBadToken(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	b.Undock()

	err := b.BindDetached("forged-token", &fakeConn{})
	require.ErrorIs(t, err, ErrProvenanceRejected)
	require.False(t, b.State().DetachedReady, "rejection leaves no side effects")

	err = b.BindDetached("", &fakeConn{})
	require.ErrorIs(t, err, ErrProvenanceRejected)
}

func TestDockRevertsAndInvalidatesToken(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	token := b.Undock()
	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(token, conn))

	b.Dock()
	require.Equal(t, model.ChannelEmbedded, b.State().Active)
	require.True(t, conn.closed)
	b.Dock() // second dock is a no-op

	require.ErrorIs(t, b.BindDetached(token, &fakeConn{}), ErrProvenanceRejected,
		"stale token is useless after dock")
	require.NotEqual(t, token, b.Undock(), "re-undock mints a fresh token")
}

func TestValidateInbound(t *testing.T) {
	b := newBridge(t)
	embeddedToken := b.StartSession()
	detachedToken := b.Undock()

	require.NoError(t, b.ValidateInbound(model.ChannelEmbedded, embeddedToken))
	require.NoError(t, b.ValidateInbound(model.ChannelDetached, detachedToken))

	require.ErrorIs(t, b.ValidateInbound(model.ChannelEmbedded, detachedToken), ErrProvenanceRejected,
		"tokens are per-channel")
	require.ErrorIs(t, b.ValidateInbound(model.ChannelDetached, "nope"), ErrProvenanceRejected)
	require.ErrorIs(t, b.ValidateInbound(model.ChannelEmbedded, ""), ErrProvenanceRejected)
	require.ErrorIs(t, b.ValidateInbound(model.ChannelNone, embeddedToken), ErrProvenanceRejected)
}

func TestSetIdentityMirrorsToAllReady(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	msgs := embeddedSink(b)
	token := b.Undock()
	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(token, conn))

	b.SetIdentity(model.WalletIdentity{Connected: true, Address: "0xFEED"})

	// Both ready transports receive the update even though only detached is
	// active.
	require.Len(t, conn.sent(), 1)
	require.Len(t, *msgs, 1)

	var got api.WalletStatusMessage
	require.NoError(t, json.Unmarshal((*msgs)[0], &got))
	require.Equal(t, api.WalletStatusType, got.Type)
	require.True(t, got.Connected)
	require.Equal(t, "0xFEED", got.Address)
}

func TestIdentityPushedToLateReadyTransport(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	b.SetIdentity(model.WalletIdentity{Connected: true, Address: "0xLATE"})

	// Embedded becomes ready after the identity was recorded.
	msgs := embeddedSink(b)
	require.Len(t, *msgs, 1)
	var got api.WalletStatusMessage
	require.NoError(t, json.Unmarshal((*msgs)[0], &got))
	require.Equal(t, "0xLATE", got.Address)

	// Same for a detached window binding later.
	token := b.Undock()
	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(token, conn))
	require.Len(t, conn.sent(), 1)
}

func TestDeliverBuildsProphecyNotification(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	token := b.Undock()
	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(token, conn))

	shift := 7.0
	b.Deliver(model.OracleResponse{
		ResponseID: "resp-1",
		Notification: model.NotificationPayload{
			Type:       model.NotificationPersonalVision,
			Title:      "The Oracle Speaks",
			Message:    "beware the chain",
			Style:      "mystical_dark",
			DurationMS: 5000,
		},
		DeliverToGame:   true,
		CorruptionShift: &shift,
	})

	sent := conn.sent()
	require.Len(t, sent, 1)
	msg, ok := sent[0].(api.ProphecyNotification)
	require.True(t, ok)
	require.Equal(t, api.ProphecyNotificationType, msg.Type)
	require.Equal(t, "resp-1", msg.Payload.NotificationID)
	require.Equal(t, "beware the chain", msg.Payload.Message)
	require.NotNil(t, msg.Payload.CorruptionInfluence)
	require.InDelta(t, 7.0, *msg.Payload.CorruptionInfluence, 1e-9)
}

func TestDetachedGoneRevertsImmediately(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	msgs := embeddedSink(b)
	token := b.Undock()
	require.NoError(t, b.BindDetached(token, &fakeConn{}))

	b.DetachedGone(token)
	require.Equal(t, model.ChannelEmbedded, b.State().Active)
	require.False(t, b.State().DetachedReady)

	b.Send(map[string]string{"type": "back-home"})
	require.Len(t, *msgs, 1, "traffic flows to the embedded frame again")
}

func TestStaleDetachedGoneKeepsSuccessorWindow(t *testing.T) {
	b := newBridge(t)
	b.StartSession()

	// First window's full life: undock, bind, dock back.
	oldToken := b.Undock()
	require.NoError(t, b.BindDetached(oldToken, &fakeConn{}))
	b.Dock()

	// Second window comes up before the first window's read pump has exited.
	newToken := b.Undock()
	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(newToken, conn))

	// The old pump's late teardown carries its own token and must not touch
	// the successor.
	b.DetachedGone(oldToken)
	require.Equal(t, model.ChannelDetached, b.State().Active)
	require.True(t, b.State().DetachedReady)

	b.Send(map[string]string{"type": "still-here"})
	require.Len(t, conn.sent(), 1)

	// The live window's own teardown still works.
	b.DetachedGone(newToken)
	require.Equal(t, model.ChannelEmbedded, b.State().Active)
}

func TestPollDetachedDropsDeadWindow(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	token := b.Undock()
	conn := &fakeConn{pingErr: errors.New("broken pipe")}
	require.NoError(t, b.BindDetached(token, conn))

	b.pollDetached()
	require.Equal(t, model.ChannelEmbedded, b.State().Active, "failed ping reverts the session")
	require.Equal(t, 1, conn.pings)

	// A healthy window survives polling.
	token = b.Undock()
	healthy := &fakeConn{}
	require.NoError(t, b.BindDetached(token, healthy))
	b.pollDetached()
	require.Equal(t, model.ChannelDetached, b.State().Active)
}

func TestUndockedButNeverBoundSurvivesPoll(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	b.Undock()

	// The window may still be starting up; an unbound transport is pending,
	// not dead, and polling must not revert it.
	b.pollDetached()
	require.Equal(t, model.ChannelDetached, b.State().Active)
}

func TestCloseTearsDownSession(t *testing.T) {
	b := newBridge(t)
	b.StartSession()
	token := b.Undock()
	conn := &fakeConn{}
	require.NoError(t, b.BindDetached(token, conn))

	b.Close()
	require.Equal(t, model.ChannelNone, b.State().Active)
	require.True(t, conn.closed)
}
