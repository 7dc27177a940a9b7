package api

import "time"

// SchemaVersion stamps every daemon response envelope.
const SchemaVersion = "v1"

// Provenance headers on the HTTP ingest path. The websocket channel carries
// its token at upgrade time instead.
const (
	HeaderChannel     = "X-Oracle-Channel"
	HeaderSourceToken = "X-Oracle-Source-Token"
)

// EventMessage is the inbound telemetry wire format, identical on both
// channels.
type EventMessage struct {
	EventType     string         `json:"event_type"`
	TimestampUTC  string         `json:"timestamp_utc,omitempty"`
	SessionID     string         `json:"session_id"`
	PlayerAddress string         `json:"player_address,omitempty"`
	EventPayload  map[string]any `json:"event_payload"`
}

// ProphecyNotification is the outbound notification wire format.
type ProphecyNotification struct {
	Type    string          `json:"type"`
	Payload ProphecyPayload `json:"payload"`
}

const ProphecyNotificationType = "oracle_prophecy_notification"

type ProphecyPayload struct {
	Title               string         `json:"title"`
	Message             string         `json:"message"`
	Duration            int            `json:"duration"`
	Style               string         `json:"style"`
	Effects             map[string]any `json:"effects,omitempty"`
	CorruptionInfluence *float64       `json:"corruption_influence,omitempty"`
	NotificationID      string         `json:"notification_id"`
}

// WalletStatusMessage mirrors auxiliary wallet identity to ready channels.
type WalletStatusMessage struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	Timestamp string `json:"timestamp"`
}

const WalletStatusType = "wallet_status_update"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type IngestAck struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Accepted      bool      `json:"accepted"`
}

type WalletUpdateRequest struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
}

type UndockResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	ChannelToken  string    `json:"channel_token"`
	ChannelPath   string    `json:"channel_path"`
}

type DockResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	ActiveChannel string    `json:"active_channel"`
}

type PlayerStateResponse struct {
	SchemaVersion   string    `json:"schema_version"`
	GeneratedAt     time.Time `json:"generated_at"`
	PlayerID        string    `json:"player_id"`
	CorruptionLevel float64   `json:"corruption_level"`
	PersonalityTier string    `json:"personality_tier"`
	TotalEventsSeen int64     `json:"total_events_seen"`
	LastUpdatedAt   *string   `json:"last_updated_at,omitempty"`
}

type ChannelStatus struct {
	ActiveChannel   string `json:"active_channel"`
	EmbeddedReady   bool   `json:"embedded_ready"`
	DetachedReady   bool   `json:"detached_ready"`
	WalletConnected bool   `json:"wallet_connected"`
	WalletAddress   string `json:"wallet_address,omitempty"`
}

type PipelineCounters struct {
	Processed          int64 `json:"processed"`
	ParseErrors        int64 `json:"parse_errors"`
	ProvenanceRejected int64 `json:"provenance_rejected"`
	BelowThreshold     int64 `json:"below_threshold"`
	Silent             int64 `json:"silent"`
	Responded          int64 `json:"responded"`
	Delivered          int64 `json:"delivered"`
}

type StatusEnvelope struct {
	SchemaVersion string           `json:"schema_version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	Channel       ChannelStatus    `json:"channel"`
	Pipeline      PipelineCounters `json:"pipeline"`
	KnownPlayers  int              `json:"known_players"`
}

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
}
