package corruption

import (
	"math"
	"time"

	"github.com/slapchain/oracled/internal/model"
)

// Signed per-type corruption deltas. Positive corrupts, negative purifies.
// Unmapped types contribute nothing but still count toward the event total.
var baseDeltas = map[string]float64{
	"tap_activity_burst":   1,
	"combo_achieved":       2,
	"mega_slap_landed":     3,
	"giga_slap_landed":     5,
	"achievement_unlocked": -2,
	"blessing_received":    -3,
}

// Scale rule cutoffs.
const (
	streakScaleMin = 5
	powerScaleOver = 1000.0
	streakScale    = 2.0
	powerScale     = 1.5
	legendaryScale = 1.8
)

// scaleRule qualifies an event for a delta multiplier. Rules are evaluated in
// order and only the first match applies: streak beats power beats legendary
// significance.
type scaleRule struct {
	name    string
	factor  float64
	applies func(p model.Payload) bool
}

var scaleRules = []scaleRule{
	{
		name:   "streak",
		factor: streakScale,
		applies: func(p model.Payload) bool {
			return p.Int("giga_slap_streak", 0) >= streakScaleMin
		},
	},
	{
		name:   "power",
		factor: powerScale,
		applies: func(p model.Payload) bool {
			return p.Float("slap_power", 0) > powerScaleOver
		},
	},
	{
		name:   "legendary",
		factor: legendaryScale,
		applies: func(p model.Payload) bool {
			return p.String("significance", "") == "legendary"
		},
	},
}

// Apply runs one event through the corruption state machine and returns the
// successor state. It is the only code path that mutates player corruption;
// callers must hold the per-player lock because the read-modify-write is not
// atomic on its own.
func Apply(event model.GameEvent, state model.PlayerCorruptionState) model.PlayerCorruptionState {
	delta := baseDeltas[event.EventType]
	scale := 1.0
	if delta != 0 {
		for _, rule := range scaleRules {
			if rule.applies(event.Payload) {
				scale = rule.factor
				break
			}
		}
	}

	next := state
	next.CorruptionLevel = clampLevel(state.CorruptionLevel + math.Round(delta*scale))
	next.PersonalityTier = model.TierForLevel(next.CorruptionLevel)
	next.TotalEventsSeen = state.TotalEventsSeen + 1
	next.LastUpdatedAt = event.ReceivedAt
	if next.LastUpdatedAt.IsZero() {
		next.LastUpdatedAt = time.Now().UTC()
	}
	return next
}

// Shift reports the effective level change between two states.
func Shift(before, after model.PlayerCorruptionState) float64 {
	return after.CorruptionLevel - before.CorruptionLevel
}

func clampLevel(v float64) float64 {
	if v < model.CorruptionMin {
		return model.CorruptionMin
	}
	if v > model.CorruptionMax {
		return model.CorruptionMax
	}
	return v
}
