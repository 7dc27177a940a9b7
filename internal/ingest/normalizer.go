package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slapchain/oracled/internal/api"
	"github.com/slapchain/oracled/internal/model"
)

// ErrParse marks a malformed inbound message. Parse failures are non-fatal:
// the caller logs and drops, and no partial event ever reaches the pipeline.
var ErrParse = errors.New("malformed event message")

// Normalize turns one raw wire message into a canonical GameEvent. It is a
// pure function of its inputs; provenance has already been checked by the
// channel bridge.
func Normalize(raw []byte, channel model.Channel, receivedAt time.Time) (model.GameEvent, error) {
	var msg api.EventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.GameEvent{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	eventType := strings.TrimSpace(msg.EventType)
	if eventType == "" {
		return model.GameEvent{}, fmt.Errorf("%w: missing event_type", ErrParse)
	}

	occurredAt := receivedAt
	if ts := strings.TrimSpace(msg.TimestampUTC); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			occurredAt = parsed.UTC()
		}
		// Unparseable timestamps fall back to receipt time rather than
		// rejecting the whole event.
	}

	playerID := strings.TrimSpace(msg.PlayerAddress)
	if playerID == "" {
		playerID = model.AnonymousPlayerID
	}

	payload := model.Payload(msg.EventPayload)
	if payload == nil {
		payload = model.Payload{}
	}

	return model.GameEvent{
		SessionID:  strings.TrimSpace(msg.SessionID),
		EventType:  eventType,
		OccurredAt: occurredAt,
		PlayerID:   playerID,
		Payload:    payload,
		Channel:    channel,
		ReceivedAt: receivedAt,
	}, nil
}
