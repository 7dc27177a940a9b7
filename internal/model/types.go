package model

import (
	"fmt"
	"time"
)

// Channel identifies which transport currently represents the live game
// session.
type Channel string

const (
	ChannelEmbedded Channel = "embedded"
	ChannelDetached Channel = "detached"
	ChannelNone     Channel = "none"
)

// PersonalityTier is the three-valued classification derived from a player's
// corruption level. It is never stored independently of a recompute.
type PersonalityTier string

const (
	TierPureProphet     PersonalityTier = "pure_prophet"
	TierChaoticSage     PersonalityTier = "chaotic_sage"
	TierCorruptedOracle PersonalityTier = "corrupted_oracle"
)

// Corruption level bounds and tier cut points.
const (
	CorruptionMin = 0.0
	CorruptionMax = 100.0

	TierSageCut   = 30.0
	TierOracleCut = 70.0
)

// TierForLevel maps a corruption level onto its personality tier.
func TierForLevel(level float64) PersonalityTier {
	switch {
	case level >= TierOracleCut:
		return TierCorruptedOracle
	case level >= TierSageCut:
		return TierChaoticSage
	default:
		return TierPureProphet
	}
}

// AnonymousPlayerID is the sentinel player identity used when an inbound
// message carries no player address.
const AnonymousPlayerID = "anonymous"

// GameEvent is the canonical record produced by the normalizer for one
// inbound telemetry message. It lives for a single processing pass.
type GameEvent struct {
	SessionID  string
	EventType  string
	OccurredAt time.Time
	PlayerID   string
	Payload    Payload
	Channel    Channel
	ReceivedAt time.Time
}

// Ref is the composite correlation key callers use for idempotence checks.
func (e GameEvent) Ref() string {
	return fmt.Sprintf("%s:%d", e.SessionID, e.OccurredAt.UnixMilli())
}

// PlayerCorruptionState tracks a player's accumulated corruption. One row per
// player, keyed by PlayerID, mutated only by the corruption state machine.
type PlayerCorruptionState struct {
	PlayerID        string
	CorruptionLevel float64
	PersonalityTier PersonalityTier
	LastUpdatedAt   time.Time
	TotalEventsSeen int64
}

// NewPlayerState returns the zero-corruption starting state for a player.
func NewPlayerState(playerID string) PlayerCorruptionState {
	return PlayerCorruptionState{
		PlayerID:        playerID,
		PersonalityTier: TierPureProphet,
	}
}

// NotificationPayload is the generator's output, opaque to the core beyond
// the fields below.
type NotificationPayload struct {
	Type       string
	Title      string
	Message    string
	Style      string
	DurationMS int
	Effects    map[string]any
}

// Notification types the dispatcher keys delivery decisions on.
const (
	NotificationPersonalVision     = "personal_vision"
	NotificationCommunityMilestone = "community_milestone"
)

// DefaultNotificationDurationMS applies when the generator leaves the
// duration unset.
const DefaultNotificationDurationMS = 5000

// OracleResponse is emitted once per accepted event that the Oracle chose to
// answer.
type OracleResponse struct {
	ResponseID      string
	EventRef        string
	Notification    NotificationPayload
	DeliverToGame   bool
	CorruptionShift *float64
	CreatedAt       time.Time
}

// WalletIdentity is the auxiliary session identity mirrored across ready
// channels.
type WalletIdentity struct {
	Connected bool
	Address   string
}

// ChannelState is the bridge's singleton view of the two transports.
type ChannelState struct {
	Active           Channel
	EmbeddedReady    bool
	DetachedReady    bool
	MirroredIdentity WalletIdentity
}

// Error codes defined by the daemon API contract.
const (
	ErrParse              = "E_PARSE"
	ErrProvenanceRejected = "E_PROVENANCE_REJECTED"
	ErrChannelNotReady    = "E_CHANNEL_NOT_READY"
	ErrGeneratorFailure   = "E_GENERATOR_FAILURE"
	ErrMethodNotAllowed   = "E_METHOD_NOT_ALLOWED"
	ErrNotFound           = "E_NOT_FOUND"
	ErrUnavailable        = "E_UNAVAILABLE"
)
