package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slapchain/oracled/internal/model"
	"github.com/slapchain/oracled/internal/testutil"
)

func milestoneEvent(total int64) model.GameEvent {
	return testutil.Event("community_tap_update", model.Payload{"total_taps": float64(total)})
}

func TestMilestoneWindowEdges(t *testing.T) {
	d := NewMilestoneDetector()

	tests := []struct {
		name  string
		total int64
		want  bool
	}{
		{"exact threshold", 1_000, true},
		{"last value inside window", 1_099, true},
		{"first value past window", 1_100, false},
		{"just below threshold", 999, false},
		{"higher threshold exact", 25_000, true},
		{"higher threshold window end", 5_099, true},
		{"between thresholds", 7_500, false},
		{"zero", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, d.IsMilestone(milestoneEvent(tt.total)))
		})
	}
}

func TestMilestoneFirstMatchWins(t *testing.T) {
	d := NewMilestoneDetector()
	_, threshold, ok := d.Match(milestoneEvent(1_000))
	require.True(t, ok)
	require.Equal(t, int64(1_000), threshold)
}

func TestMilestoneOnlyAggregateCounterTypes(t *testing.T) {
	d := NewMilestoneDetector()

	ev := testutil.Event("mega_slap_landed", model.Payload{"total_taps": float64(1_000)})
	require.False(t, d.IsMilestone(ev), "non-aggregate event types never fire milestones")

	noCounter := testutil.Event("community_tap_update", nil)
	require.False(t, d.IsMilestone(noCounter), "missing counter key fails closed")
}
