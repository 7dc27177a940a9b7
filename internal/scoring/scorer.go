package scoring

import (
	"github.com/slapchain/oracled/internal/model"
)

// Significance modifier weights. Each qualifying modifier applies
// independently and they combine by multiplication before the final clamp.
const (
	// UnknownTypeBase keeps novel event types from being starved of Oracle
	// attention entirely.
	UnknownTypeBase = 0.2

	MilestoneBoost   = 1.5
	EarlyPlayerBoost = 1.3
	HighCorruption   = 1.2
	LegendaryBoost   = 1.4

	// EarlyPlayerEvents counts how many of a player's first events get the
	// newcomer boost. Evaluated against the state before the current event
	// is counted.
	EarlyPlayerEvents = 5
)

// baseScores is the fixed per-type significance lookup.
var baseScores = map[string]float64{
	"tap_activity_burst":   0.4,
	"mega_slap_landed":     0.6,
	"giga_slap_landed":     0.7,
	"combo_achieved":       0.5,
	"achievement_unlocked": 0.6,
	"blessing_received":    0.5,
	"community_tap_update": 0.3,
}

// Scorer computes 0-1 significance scores for normalized events.
type Scorer struct {
	milestones *MilestoneDetector
}

func NewScorer() *Scorer {
	return &Scorer{milestones: NewMilestoneDetector()}
}

// Score rates how noteworthy an event is given the player's state as it was
// before this event.
func (s *Scorer) Score(event model.GameEvent, state model.PlayerCorruptionState) float64 {
	base, ok := baseScores[event.EventType]
	if !ok {
		base = UnknownTypeBase
	}

	score := base
	if s.milestones.IsMilestone(event) {
		score *= MilestoneBoost
	}
	if state.TotalEventsSeen < EarlyPlayerEvents {
		score *= EarlyPlayerBoost
	}
	if state.CorruptionLevel > model.TierOracleCut {
		score *= HighCorruption
	}
	if event.Payload.String("significance", "") == "legendary" {
		score *= LegendaryBoost
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
