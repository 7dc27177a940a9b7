package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/slapchain/oracled/internal/api"
	"github.com/slapchain/oracled/internal/corruption"
	"github.com/slapchain/oracled/internal/dispatch"
	"github.com/slapchain/oracled/internal/model"
	"github.com/slapchain/oracled/internal/scoring"
	"github.com/slapchain/oracled/internal/sink"
)

// Pipeline runs one inbound message through normalize -> score -> corruption
// update -> dispatch. Tasks for different players may run concurrently; the
// state store serializes the read-modify-write per player, and the lock is
// released before the dispatcher calls out to the generator.
type Pipeline struct {
	store      *corruption.Store
	scorer     *scoring.Scorer
	dispatcher *dispatch.Dispatcher
	journal    sink.Sink
	logger     *zap.Logger
	now        func() time.Time

	counters counters
}

type counters struct {
	processed          atomic.Int64
	parseErrors        atomic.Int64
	provenanceRejected atomic.Int64
	belowThreshold     atomic.Int64
	silent             atomic.Int64
	responded          atomic.Int64
	delivered          atomic.Int64
}

func NewPipeline(store *corruption.Store, scorer *scoring.Scorer, dispatcher *dispatch.Dispatcher, journal sink.Sink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if journal == nil {
		journal = sink.Nop{}
	}
	return &Pipeline{
		store:      store,
		scorer:     scorer,
		dispatcher: dispatcher,
		journal:    journal,
		logger:     logger.Named("pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest is the top-level entry point for one raw message whose provenance
// has already been validated. Parse failures are logged and dropped; they are
// never propagated as anything other than ErrParse, and no partial event
// moves downstream.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, channel model.Channel) error {
	event, err := Normalize(raw, channel, p.now())
	if err != nil {
		p.counters.parseErrors.Add(1)
		p.logger.Debug("dropping malformed message",
			zap.String("code", model.ErrParse),
			zap.String("channel", string(channel)),
			zap.Error(err))
		return err
	}

	var score float64
	before, after := p.store.Update(event.PlayerID, func(st model.PlayerCorruptionState) model.PlayerCorruptionState {
		score = p.scorer.Score(event, st)
		return corruption.Apply(event, st)
	})
	p.counters.processed.Add(1)
	p.journal.RecordEvent(event, score)

	// The per-player lock is released; the generator call below may block.
	resp, outcome := p.dispatcher.Dispatch(ctx, event, after, score, corruption.Shift(before, after))
	switch outcome {
	case dispatch.OutcomeBelowThreshold:
		p.counters.belowThreshold.Add(1)
	case dispatch.OutcomeSilent:
		p.counters.silent.Add(1)
	case dispatch.OutcomeResponded:
		p.counters.responded.Add(1)
		p.journal.RecordResponse(*resp)
		if resp.DeliverToGame {
			p.counters.delivered.Add(1)
		}
	}
	return nil
}

// MarkProvenanceRejected counts a message dropped at the channel boundary
// before it ever reached the pipeline.
func (p *Pipeline) MarkProvenanceRejected() {
	p.counters.provenanceRejected.Add(1)
}

// Counters snapshots pipeline activity for the status surface.
func (p *Pipeline) Counters() api.PipelineCounters {
	return api.PipelineCounters{
		Processed:          p.counters.processed.Load(),
		ParseErrors:        p.counters.parseErrors.Load(),
		ProvenanceRejected: p.counters.provenanceRejected.Load(),
		BelowThreshold:     p.counters.belowThreshold.Load(),
		Silent:             p.counters.silent.Load(),
		Responded:          p.counters.responded.Load(),
		Delivered:          p.counters.delivered.Load(),
	}
}
