package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/slapchain/oracled/internal/model"
	"github.com/slapchain/oracled/internal/security"
)

// SQLiteSink journals accepted events and emitted responses through a bounded
// queue. Queue overflow drops the entry and counts it; the pipeline is never
// blocked on disk.
type SQLiteSink struct {
	db      *sql.DB
	queue   chan journalEntry
	logger  *zap.Logger
	wg      sync.WaitGroup
	closed  sync.Once
	pending atomic.Int64
	dropped int64
	mu      sync.Mutex
}

type journalEntry struct {
	event    *model.GameEvent
	score    float64
	response *model.OracleResponse
}

// Open creates or opens the journal database and starts the writer.
func Open(ctx context.Context, path string, queueSize int, logger *zap.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteSink{
		db:     db,
		queue:  make(chan journalEntry, queueSize),
		logger: logger.Named("sink"),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *SQLiteSink) RecordEvent(event model.GameEvent, score float64) {
	s.enqueue(journalEntry{event: &event, score: score})
}

func (s *SQLiteSink) RecordResponse(resp model.OracleResponse) {
	s.enqueue(journalEntry{response: &resp})
}

func (s *SQLiteSink) enqueue(entry journalEntry) {
	s.pending.Add(1)
	select {
	case s.queue <- entry:
	default:
		s.pending.Add(-1)
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		s.logger.Debug("journal queue full, entry dropped", zap.Int64("dropped_total", dropped))
	}
}

// Dropped reports how many journal entries were discarded on overflow.
func (s *SQLiteSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *SQLiteSink) writeLoop() {
	defer s.wg.Done()
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case entry.event != nil:
			err = s.insertEvent(ctx, *entry.event, entry.score)
		case entry.response != nil:
			err = s.insertResponse(ctx, *entry.response)
		}
		cancel()
		s.pending.Add(-1)
		if err != nil {
			s.logger.Warn("journal write failed", zap.Error(err))
		}
	}
}

func (s *SQLiteSink) insertEvent(ctx context.Context, ev model.GameEvent, score float64) error {
	payload, err := json.Marshal(security.SanitizePayload(ev.Payload))
	if err != nil {
		payload = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO events(session_id, event_type, player_id, channel, occurred_at, received_at, score, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, ev.SessionID, ev.EventType, ev.PlayerID, string(ev.Channel), ts(ev.OccurredAt), ts(ev.ReceivedAt), score, string(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) insertResponse(ctx context.Context, resp model.OracleResponse) error {
	var shift any
	if resp.CorruptionShift != nil {
		shift = *resp.CorruptionShift
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO responses(response_id, event_ref, notification_type, title, message, style, duration_ms, deliver_to_game, corruption_shift, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(response_id) DO NOTHING
`, resp.ResponseID, resp.EventRef, resp.Notification.Type, resp.Notification.Title,
		resp.Notification.Message, resp.Notification.Style, resp.Notification.DurationMS,
		boolToInt(resp.DeliverToGame), shift, ts(resp.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// PurgeRetention deletes journal rows older than the given cutoffs.
func (s *SQLiteSink) PurgeRetention(ctx context.Context, eventCutoff, responseCutoff time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE received_at < ?`, ts(eventCutoff)); err != nil {
		return fmt.Errorf("purge events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE created_at < ?`, ts(responseCutoff)); err != nil {
		return fmt.Errorf("purge responses: %w", err)
	}
	return nil
}

// CountEvents is a diagnostic helper for the status surface and tests.
func (s *SQLiteSink) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountResponses is a diagnostic helper for the status surface and tests.
func (s *SQLiteSink) CountResponses(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

// Flush waits until every accepted entry has been written. Test helper;
// production teardown uses Close.
func (s *SQLiteSink) Flush(ctx context.Context) error {
	for {
		if s.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *SQLiteSink) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.queue)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	player_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	received_at TEXT NOT NULL,
	score REAL NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_received_at ON events(received_at);
CREATE INDEX IF NOT EXISTS events_player ON events(player_id);

CREATE TABLE IF NOT EXISTS responses (
	response_id TEXT PRIMARY KEY,
	event_ref TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	style TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	deliver_to_game INTEGER NOT NULL,
	corruption_shift REAL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS responses_created_at ON responses(created_at);
`)
	if err != nil {
		return fmt.Errorf("apply journal migrations: %w", err)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Sink = (*SQLiteSink)(nil)
