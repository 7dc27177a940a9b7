package scoring

import "github.com/slapchain/oracled/internal/model"

// MilestoneWindow is how far past a threshold an aggregate value still counts
// as that milestone. The reported counter is sampled, not exact, so the whole
// [threshold, threshold+window) band fires.
const MilestoneWindow = 100

// milestoneThresholds is ordered ascending; the first matching threshold
// wins.
var milestoneThresholds = []int64{
	1_000,
	5_000,
	10_000,
	25_000,
	50_000,
	100_000,
	250_000,
	500_000,
	1_000_000,
}

// aggregateCounterKeys maps the event types that carry a community-wide
// counter to the payload key holding it. Milestones only apply to these.
var aggregateCounterKeys = map[string]string{
	"tap_activity_burst":   "total_taps",
	"community_tap_update": "total_taps",
}

type MilestoneDetector struct {
	thresholds []int64
}

func NewMilestoneDetector() *MilestoneDetector {
	return &MilestoneDetector{thresholds: milestoneThresholds}
}

// IsMilestone reports whether the event's aggregate counter sits inside the
// window of any milestone threshold.
func (d *MilestoneDetector) IsMilestone(event model.GameEvent) bool {
	_, _, ok := d.Match(event)
	return ok
}

// Match returns the counter value and the first matching threshold.
func (d *MilestoneDetector) Match(event model.GameEvent) (value, threshold int64, ok bool) {
	key, aggregate := aggregateCounterKeys[event.EventType]
	if !aggregate {
		return 0, 0, false
	}
	if !event.Payload.Has(key) {
		return 0, 0, false
	}
	value = event.Payload.Int(key, 0)
	for _, t := range d.thresholds {
		if value >= t && value < t+MilestoneWindow {
			return value, t, true
		}
	}
	return value, 0, false
}
