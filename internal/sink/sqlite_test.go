package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/slapchain/oracled/internal/model"
)

func openSink(t *testing.T) (*SQLiteSink, context.Context) {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "journal.db"), 64, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, ctx
}

func journalEvent(received time.Time) model.GameEvent {
	return model.GameEvent{
		SessionID:  "sess-1",
		EventType:  "giga_slap_landed",
		OccurredAt: received,
		PlayerID:   "0xP",
		Payload:    model.Payload{"slap_power": 1500.0},
		Channel:    model.ChannelEmbedded,
		ReceivedAt: received,
	}
}

func TestRecordAndCount(t *testing.T) {
	s, ctx := openSink(t)
	now := time.Now().UTC()

	s.RecordEvent(journalEvent(now), 0.91)
	s.RecordEvent(journalEvent(now), 0.4)
	s.RecordResponse(model.OracleResponse{
		ResponseID:    "r-1",
		EventRef:      "sess-1:1",
		Notification:  model.NotificationPayload{Type: model.NotificationPersonalVision, Message: "m"},
		DeliverToGame: true,
		CreatedAt:     now,
	})
	require.NoError(t, s.Flush(ctx))

	events, err := s.CountEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), events)

	responses, err := s.CountResponses(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), responses)
	require.Zero(t, s.Dropped())
}

func TestDuplicateResponseIDIgnored(t *testing.T) {
	s, ctx := openSink(t)
	resp := model.OracleResponse{
		ResponseID:   "r-dup",
		EventRef:     "sess-1:1",
		Notification: model.NotificationPayload{Type: "oracle_whisper"},
		CreatedAt:    time.Now().UTC(),
	}
	s.RecordResponse(resp)
	s.RecordResponse(resp)
	require.NoError(t, s.Flush(ctx))

	n, err := s.CountResponses(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStoredPayloadIsSanitized(t *testing.T) {
	s, ctx := openSink(t)
	ev := journalEvent(time.Now().UTC())
	ev.Payload = model.Payload{
		"slap_power":  900.0,
		"private_key": "0xdeadbeef",
	}
	s.RecordEvent(ev, 0.5)
	require.NoError(t, s.Flush(ctx))

	var payload string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT payload FROM events`).Scan(&payload))
	require.NotContains(t, payload, "0xdeadbeef")
	require.Contains(t, payload, "[REDACTED]")
	require.Contains(t, payload, "slap_power")
}

func TestPurgeRetention(t *testing.T) {
	s, ctx := openSink(t)
	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	s.RecordEvent(journalEvent(old), 0.1)
	s.RecordEvent(journalEvent(fresh), 0.2)
	s.RecordResponse(model.OracleResponse{ResponseID: "r-old", EventRef: "e", Notification: model.NotificationPayload{Type: "t"}, CreatedAt: old})
	s.RecordResponse(model.OracleResponse{ResponseID: "r-new", EventRef: "e", Notification: model.NotificationPayload{Type: "t"}, CreatedAt: fresh})
	require.NoError(t, s.Flush(ctx))

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, s.PurgeRetention(ctx, cutoff, cutoff))

	events, err := s.CountEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), events)

	responses, err := s.CountResponses(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), responses)
}

func TestEnqueueOverflowDrops(t *testing.T) {
	// No writer goroutine: the queue cannot drain, so the second enqueue must
	// be dropped and counted rather than blocking the caller.
	s := &SQLiteSink{
		queue:  make(chan journalEntry, 1),
		logger: zaptest.NewLogger(t),
	}
	s.enqueue(journalEntry{score: 0.1})
	s.enqueue(journalEntry{score: 0.2})
	require.Equal(t, int64(1), s.Dropped())
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := openSink(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
