package sink

import (
	"github.com/slapchain/oracled/internal/model"
)

// Sink records pipeline activity for offline diagnosis. Implementations are
// fire-and-forget: calls must return immediately and never block or fail the
// pipeline.
type Sink interface {
	RecordEvent(event model.GameEvent, score float64)
	RecordResponse(resp model.OracleResponse)
}

// Nop discards everything. Used in tests and when journaling is disabled.
type Nop struct{}

func (Nop) RecordEvent(model.GameEvent, float64) {}

func (Nop) RecordResponse(model.OracleResponse) {}
