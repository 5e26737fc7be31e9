// Package models defines the data structures used for ingestion input, database persistence and API responses.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPort is assumed when the scraper reports a server without a port.
const DefaultPort = 10308

// serverNamespace seeds deterministic server identifiers.
var serverNamespace = uuid.MustParse("a1b2c3d4-e5f6-7890-abcd-ef1234567890")

// ServerID returns the deterministic identifier for the (address, port) endpoint.
func ServerID(address string, port int) string {
	return uuid.NewSHA1(serverNamespace, fmt.Appendf(nil, "%s:%d", address, port)).String()
}

// Observation is one server as reported by the scraper in a single ingestion cycle.
// Enrichment fields are filled by an external step and consumed read-only.
type Observation struct {
	Address          string `json:"ip_address"`
	Name             string `json:"server_name"`
	Mission          string `json:"mission,omitempty"`
	Description      string `json:"description,omitempty"`
	Terrain          string `json:"terrain,omitempty"`
	Era              string `json:"era,omitempty"`
	GameMode         string `json:"game_mode,omitempty"`
	Framework        string `json:"framework,omitempty"`
	Language         string `json:"language,omitempty"`
	DiscordURL       string `json:"discord_url,omitempty"`
	SRSAddress       string `json:"srs_address,omitempty"`
	Port             int    `json:"port"`
	PlayersCurrent   int    `json:"players_current"`
	PlayersMax       int    `json:"players_max"`
	PasswordRequired bool   `json:"password_required"`
}

// Server is the canonical identity bound to the current (address, port) endpoint.
type Server struct {
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	ID               string    `json:"id"`
	Address          string    `json:"address"`
	Fingerprint      string    `json:"fingerprint"`
	DisplayName      string    `json:"display_name"`
	NormalizedName   string    `json:"normalized_name"`
	Mission          string    `json:"mission"`
	Description      string    `json:"description"`
	Terrain          string    `json:"terrain,omitempty"`
	Era              string    `json:"era,omitempty"`
	GameMode         string    `json:"game_mode,omitempty"`
	Framework        string    `json:"framework,omitempty"`
	Language         string    `json:"language,omitempty"`
	DiscordURL       string    `json:"discord_url,omitempty"`
	SRSAddress       string    `json:"srs_address,omitempty"`
	HostClusterID    int64     `json:"host_cluster_id,omitempty"`
	Port             int       `json:"port"`
	PlayersCurrent   int       `json:"players_current"`
	PlayersMax       int       `json:"players_max"`
	PasswordRequired bool      `json:"password_required"`
}

// Snapshot is one immutable observation of a server at a capture time.
type Snapshot struct {
	CapturedAt     time.Time `json:"captured_at"`
	ServerID       string    `json:"server_id"`
	Mission        string    `json:"mission"`
	ContentHash    string    `json:"content_hash"`
	PlayersCurrent int       `json:"players_current"`
	PlayersMax     int       `json:"players_max"`
	Online         bool      `json:"online"`
}

// HostCluster groups servers sharing a network address.
type HostCluster struct {
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	UpdatedAt     time.Time `json:"updated_at"`
	Address       string    `json:"address"`
	CountryCode   string    `json:"country_code,omitempty"`
	ID            int64     `json:"id"`
	MemberCount   int       `json:"member_count"`
	ActiveMembers int       `json:"active_members"`
}

// MatchType classifies how a lineage candidate was matched.
type MatchType string

// Lineage match types.
const (
	MatchExactName        MatchType = "exact_name"
	MatchFuzzyName        MatchType = "fuzzy_name"
	MatchMissionSignature MatchType = "mission_signature"
)

// LineageStatus is the review state of a lineage edge.
type LineageStatus string

// Lineage statuses.
const (
	LineageConfirmed     LineageStatus = "confirmed"
	LineagePendingReview LineageStatus = "pending_review"
	LineageRejected      LineageStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s LineageStatus) Valid() bool {
	switch s {
	case LineageConfirmed, LineagePendingReview, LineageRejected:
		return true
	}
	return false
}

// LineageEdge links a current server to the previous server it is believed to succeed.
// Edges are claims, never merges: they do not modify the referenced servers.
type LineageEdge struct {
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	CurrentServerID string        `json:"current_server_id"`
	PrevServerID    string        `json:"previous_server_id"`
	MatchType       MatchType     `json:"match_type"`
	Status          LineageStatus `json:"status"`
	Note            string        `json:"note,omitempty"`
	ID              int64         `json:"id"`
	Similarity      float64       `json:"similarity_score"`
}

// ActivityPattern is the derived weekly signature of a server.
// Days are ISO ordered: 0 is Monday, 6 is Sunday.
type ActivityPattern struct {
	ComputedAt    time.Time `json:"computed_at"`
	ServerID      string    `json:"server_id"`
	PeakDay       int       `json:"peak_day"`
	PeakHour      int       `json:"peak_hour"`
	PeakAvg       float64   `json:"peak_avg_players"`
	PeakWindowAvg float64   `json:"peak_window_avg"`
	Baseline      float64   `json:"baseline"`
	TrainingScore float64   `json:"training_score"`
	ActiveHours   int       `json:"active_hours"`
	Samples       int       `json:"samples"`
	DistinctDays  int       `json:"distinct_days"`
	TrainingMode  bool      `json:"training_mode"`
	Suppressed    bool      `json:"suppressed"`
}

// HeatmapCell is the aggregated load of one (day, hour) bucket.
type HeatmapCell struct {
	Day        int     `json:"day"`
	Hour       int     `json:"hour"`
	AvgPlayers float64 `json:"avg_players"`
	MaxPlayers int     `json:"max_players"`
	Samples    int     `json:"samples"`
}

// DailyStat is the ecosystem-wide summary of a calendar day.
type DailyStat struct {
	CapturedAt          time.Time      `json:"captured_at"`
	FrameworkCounts     map[string]int `json:"framework_counts"`
	TerrainCounts       map[string]int `json:"terrain_counts"`
	CountryCounts       map[string]int `json:"country_counts"`
	Date                string         `json:"stat_date"`
	TotalServers        int            `json:"total_servers"`
	ActiveServers       int            `json:"active_servers"`
	TotalPlayers        int            `json:"total_players"`
	PeakConcurrent      int            `json:"peak_concurrent"`
	SoloSessions        int            `json:"solo_sessions"`
	MultiplayerSessions int            `json:"multiplayer_sessions"`
	UniqueHosts         int            `json:"unique_hosts"`
	PasswordProtected   int            `json:"password_protected"`
	DiscordLinked       int            `json:"discord_linked"`
	SRSEnabled          int            `json:"srs_enabled"`
}
