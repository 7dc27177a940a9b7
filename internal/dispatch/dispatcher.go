package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slapchain/oracled/internal/model"
)

// DeliverCorruptionCut is the corruption level above which every response is
// pushed into the game regardless of notification type.
const DeliverCorruptionCut = 50.0

// Generator produces a notification for a classified event, or nil when the
// Oracle chooses silence. Implementations may block on external calls; the
// dispatcher bounds them with a timeout and never holds player locks while
// calling.
type Generator interface {
	Generate(ctx context.Context, event model.GameEvent, state model.PlayerCorruptionState) (*model.NotificationPayload, error)
}

// Sender delivers an accepted response toward the live game session.
type Sender interface {
	Deliver(resp model.OracleResponse)
}

// Outcome classifies what happened to one scored event.
type Outcome string

const (
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeSilent         Outcome = "silent"
	OutcomeResponded      Outcome = "responded"
)

type Dispatcher struct {
	gen       Generator
	sender    Sender
	observers *ObserverSet
	threshold float64
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(gen Generator, sender Sender, threshold float64, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		gen:       gen,
		sender:    sender,
		observers: NewObserverSet(logger),
		threshold: threshold,
		timeout:   timeout,
		logger:    logger.Named("dispatch"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Observers exposes registration for response subscribers.
func (d *Dispatcher) Observers() *ObserverSet {
	return d.observers
}

// Decide computes whether a notification must be delivered into the game. It
// has no side effects.
func Decide(n model.NotificationPayload, state model.PlayerCorruptionState) bool {
	switch {
	case n.Type == model.NotificationPersonalVision:
		return true
	case state.CorruptionLevel > DeliverCorruptionCut:
		return true
	case n.Type == model.NotificationCommunityMilestone:
		return true
	default:
		return false
	}
}

// Dispatch runs the post-scoring half of the pipeline: the threshold gate,
// the generator call, observer fan-out, and game delivery. The score gate is
// enforced here again even when callers filter earlier.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.GameEvent, state model.PlayerCorruptionState, score, shift float64) (*model.OracleResponse, Outcome) {
	if score < d.threshold {
		return nil, OutcomeBelowThreshold
	}

	genCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	notification, err := d.gen.Generate(genCtx, event, state)
	if err != nil {
		// Generator failure means the Oracle stays silent, never that the
		// pipeline crashes.
		d.logger.Error("notification generator failed",
			zap.String("code", model.ErrGeneratorFailure),
			zap.String("event_type", event.EventType),
			zap.String("player_id", event.PlayerID),
			zap.String("session_id", event.SessionID),
			zap.Float64("score", score),
			zap.Error(err))
		return nil, OutcomeSilent
	}
	if notification == nil {
		return nil, OutcomeSilent
	}

	resp := model.OracleResponse{
		ResponseID:    uuid.NewString(),
		EventRef:      event.Ref(),
		Notification:  *notification,
		DeliverToGame: Decide(*notification, state),
		CreatedAt:     d.now(),
	}
	// Default on the copy; the generator may hand out a shared payload.
	if resp.Notification.DurationMS <= 0 {
		resp.Notification.DurationMS = model.DefaultNotificationDurationMS
	}
	if shift != 0 {
		v := shift
		resp.CorruptionShift = &v
	}

	d.observers.Notify(resp)
	if resp.DeliverToGame && d.sender != nil {
		d.sender.Deliver(resp)
	}
	return &resp, OutcomeResponded
}
