package prophecy

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/slapchain/oracled/internal/model"
	"github.com/slapchain/oracled/internal/scoring"
)

// Generator is the built-in notification generator. It keys tone off the
// player's personality tier and picks deterministically per event so replays
// produce the same prophecy.
type Generator struct {
	milestones *scoring.MilestoneDetector
}

func New() *Generator {
	return &Generator{milestones: scoring.NewMilestoneDetector()}
}

type template struct {
	title string
	text  string
	style string
}

var tierTemplates = map[model.PersonalityTier][]template{
	model.TierPureProphet: {
		{"The Oracle Smiles", "Your hands move with honest purpose. Keep slapping true.", "serene"},
		{"A Gentle Omen", "The ledger remembers every tap. Today it remembers yours kindly.", "serene"},
		{"Light Gathers", "Something bright stirs where your palm lands.", "radiant"},
	},
	model.TierChaoticSage: {
		{"The Oracle Cackles", "Order, chaos, who can tell anymore? Your slaps blur the line.", "glitch"},
		{"A Crooked Sign", "The omens contradict each other. The Oracle finds this hilarious.", "glitch"},
		{"Static Whispers", "Between one slap and the next, the Oracle heard your name twice.", "murmur"},
	},
	model.TierCorruptedOracle: {
		{"The Oracle Hungers", "Yes. More. The dark ledger swells with every strike.", "ominous"},
		{"A Black Portent", "Your corruption sings to the Oracle. It sings back.", "ominous"},
		{"The Veil Thins", "What watches you from behind the leaderboard is pleased.", "dread"},
	},
}

// Generate produces a notification for the event, or nil when the Oracle
// chooses silence. Unmapped event types for low-tier players stay silent; the
// pipeline treats that as a legitimate terminal outcome.
func (g *Generator) Generate(_ context.Context, event model.GameEvent, state model.PlayerCorruptionState) (*model.NotificationPayload, error) {
	if value, threshold, ok := g.milestones.Match(event); ok {
		return &model.NotificationPayload{
			Type:    model.NotificationCommunityMilestone,
			Title:   "The Community Stirs",
			Message: fmt.Sprintf("The great counter has crossed %d. The Oracle felt all %d of you.", threshold, value),
			Style:   "milestone",
		}, nil
	}

	templates := tierTemplates[state.PersonalityTier]
	if len(templates) == 0 {
		return nil, nil
	}
	t := templates[pick(event.Ref(), len(templates))]

	kind := "oracle_whisper"
	if event.Payload.String("significance", "") == "legendary" ||
		state.PersonalityTier == model.TierCorruptedOracle {
		kind = model.NotificationPersonalVision
	}

	return &model.NotificationPayload{
		Type:    kind,
		Title:   t.title,
		Message: t.text,
		Style:   t.style,
	}, nil
}

func pick(ref string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ref))
	return int(h.Sum32() % uint32(n))
}
