package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/slapchain/oracled/internal/model"
	"github.com/slapchain/oracled/internal/sink"
)

// NewJournal opens a throwaway SQLite journal under t.TempDir.
func NewJournal(t *testing.T) (*sink.SQLiteSink, context.Context) {
	t.Helper()
	ctx := context.Background()
	journal, err := sink.Open(ctx, filepath.Join(t.TempDir(), "oracled-test.db"), 64, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open test journal: %v", err)
	}
	t.Cleanup(func() {
		_ = journal.Close()
	})
	return journal, ctx
}

// Event builds a normalized game event with sensible defaults.
func Event(eventType string, payload model.Payload) model.GameEvent {
	if payload == nil {
		payload = model.Payload{}
	}
	now := time.Now().UTC()
	return model.GameEvent{
		SessionID:  "session-1",
		EventType:  eventType,
		OccurredAt: now,
		PlayerID:   "0xPLAYER1",
		Payload:    payload,
		Channel:    model.ChannelEmbedded,
		ReceivedAt: now,
	}
}

// PlayerAt returns a player state at the given corruption level with the
// tier derived correctly.
func PlayerAt(playerID string, level float64, eventsSeen int64) model.PlayerCorruptionState {
	return model.PlayerCorruptionState{
		PlayerID:        playerID,
		CorruptionLevel: level,
		PersonalityTier: model.TierForLevel(level),
		TotalEventsSeen: eventsSeen,
		LastUpdatedAt:   time.Now().UTC(),
	}
}
