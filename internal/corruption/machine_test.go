package corruption

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slapchain/oracled/internal/model"
	"github.com/slapchain/oracled/internal/testutil"
)

func TestApplyStreakScale(t *testing.T) {
	ev := testutil.Event("giga_slap_landed", model.Payload{"giga_slap_streak": float64(6)})
	st := model.NewPlayerState("p")

	next := Apply(ev, st)
	require.InDelta(t, 10.0, next.CorruptionLevel, 1e-9, "base 5 with streak x2.0")
	require.Equal(t, model.TierPureProphet, next.PersonalityTier)
	require.Equal(t, int64(1), next.TotalEventsSeen)
}

func TestApplyTierFlipsAtExactBoundaries(t *testing.T) {
	ev := testutil.Event("giga_slap_landed", model.Payload{"giga_slap_streak": float64(6)})
	st := model.NewPlayerState("p")

	seenTiers := map[float64]model.PersonalityTier{}
	for i := 0; i < 12; i++ {
		st = Apply(ev, st)
		seenTiers[st.CorruptionLevel] = st.PersonalityTier
	}

	require.Equal(t, model.TierPureProphet, seenTiers[20], "below the sage cut")
	require.Equal(t, model.TierChaoticSage, seenTiers[30], "flips exactly at 30")
	require.Equal(t, model.TierChaoticSage, seenTiers[60], "below the oracle cut")
	require.Equal(t, model.TierCorruptedOracle, seenTiers[70], "flips exactly at 70")
	require.InDelta(t, 100.0, st.CorruptionLevel, 1e-9, "clamped at the ceiling")
}

func TestApplyPurifyingClampsAtZero(t *testing.T) {
	ev := testutil.Event("achievement_unlocked", nil)
	st := testutil.PlayerAt("p", 1, 3)

	next := Apply(ev, st)
	require.InDelta(t, 0.0, next.CorruptionLevel, 1e-9, "clamps to 0, never negative")
	require.Equal(t, model.TierPureProphet, next.PersonalityTier)
}

func TestApplyScalePriorityDoesNotStack(t *testing.T) {
	// All three scale conditions qualify; only the streak rule applies.
	ev := testutil.Event("giga_slap_landed", model.Payload{
		"giga_slap_streak": float64(6),
		"slap_power":       float64(2_000),
		"significance":     "legendary",
	})
	next := Apply(ev, model.NewPlayerState("p"))
	require.InDelta(t, 10.0, next.CorruptionLevel, 1e-9, "streak x2.0 wins, no stacking")
}

func TestApplyPowerScale(t *testing.T) {
	ev := testutil.Event("mega_slap_landed", model.Payload{"slap_power": float64(2_000)})
	next := Apply(ev, model.NewPlayerState("p"))
	require.InDelta(t, 5.0, next.CorruptionLevel, 1e-9, "base 3 x1.5 rounds to 5")
}

func TestApplyLegendaryScale(t *testing.T) {
	ev := testutil.Event("mega_slap_landed", model.Payload{"significance": "legendary"})
	next := Apply(ev, model.NewPlayerState("p"))
	require.InDelta(t, 5.0, next.CorruptionLevel, 1e-9, "base 3 x1.8 rounds to 5")
}

func TestApplyStreakBelowCutoffDoesNotScale(t *testing.T) {
	ev := testutil.Event("giga_slap_landed", model.Payload{"giga_slap_streak": float64(4)})
	next := Apply(ev, model.NewPlayerState("p"))
	require.InDelta(t, 5.0, next.CorruptionLevel, 1e-9)
}

func TestApplyUnmappedTypeCountsButDoesNotShift(t *testing.T) {
	ev := testutil.Event("poll_vote_cast", model.Payload{"significance": "legendary"})
	st := testutil.PlayerAt("p", 42, 7)

	next := Apply(ev, st)
	require.InDelta(t, 42.0, next.CorruptionLevel, 1e-9)
	require.Equal(t, int64(8), next.TotalEventsSeen)
}

func TestApplyBoundsHoldForAnySequence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	types := []string{
		"tap_activity_burst", "combo_achieved", "mega_slap_landed",
		"giga_slap_landed", "achievement_unlocked", "blessing_received",
		"unmapped_event",
	}
	st := model.NewPlayerState("p")
	for i := 0; i < 2_000; i++ {
		payload := model.Payload{}
		if rng.Intn(2) == 0 {
			payload["giga_slap_streak"] = float64(rng.Intn(10))
		}
		if rng.Intn(2) == 0 {
			payload["slap_power"] = float64(rng.Intn(5_000))
		}
		if rng.Intn(4) == 0 {
			payload["significance"] = "legendary"
		}
		st = Apply(testutil.Event(types[rng.Intn(len(types))], payload), st)

		require.GreaterOrEqual(t, st.CorruptionLevel, model.CorruptionMin)
		require.LessOrEqual(t, st.CorruptionLevel, model.CorruptionMax)
		require.Equal(t, model.TierForLevel(st.CorruptionLevel), st.PersonalityTier,
			"tier always matches the cut-point function")
	}
}
