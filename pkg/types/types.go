package types

import (
	"encoding/json"
	"time"
)

// ConnectionState represents the lifecycle state of a transport connection
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	// ConnectionFailed is terminal: the reconnect attempt cap was reached
	ConnectionFailed ConnectionState = "failed"
)

// Message is a single frame received from or sent to the bus
type Message struct {
	ID         string
	Subject    string
	Payload    []byte
	Headers    map[string]string
	ReceivedAt time.Time
}

// EnvelopeType distinguishes full snapshots from incremental deltas
type EnvelopeType string

const (
	EnvelopeSnapshot EnvelopeType = "snapshot"
	EnvelopeDelta    EnvelopeType = "delta"
)

// Envelope is the versioned wrapper around a payload
type Envelope struct {
	Type    EnvelopeType    `json:"type"`
	Schema  string          `json:"schema"`
	Version uint64          `json:"version"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// MirrorRecord is one committed mirror entry and the version it was committed at
type MirrorRecord struct {
	Stream    string          `json:"stream"`
	Key       string          `json:"key"`
	Version   uint64          `json:"version"`
	Value     json.RawMessage `json:"value,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ContractKind is the resolution variant of a contract
type ContractKind string

const (
	ContractExact   ContractKind = "exact"
	ContractPattern ContractKind = "pattern"
)

// Contract maps a subject (or subject pattern) to a payload schema
type Contract struct {
	Subject              string         `yaml:"subject" json:"subject"`
	SubjectPattern       string         `yaml:"subjectPattern,omitempty" json:"subjectPattern,omitempty"`
	SupportsScopedSuffix bool           `yaml:"supportsScopedSuffix,omitempty" json:"supportsScopedSuffix,omitempty"`
	PayloadType          string         `yaml:"payloadType" json:"payloadType"`
	PayloadSchema        map[string]any `yaml:"payloadSchema,omitempty" json:"payloadSchema,omitempty"`
}

// Kind reports whether the contract resolves by exact subject or by pattern
func (c *Contract) Kind() ContractKind {
	if c.SubjectPattern != "" {
		return ContractPattern
	}
	return ContractExact
}

// Pattern returns the subject pattern used for matching
func (c *Contract) Pattern() string {
	if c.SubjectPattern != "" {
		return c.SubjectPattern
	}
	return c.Subject
}

// Subscription is a logically-active interest in a subject
type Subscription struct {
	Subject      string
	Handler      func(msg *Message)
	Active       bool
	RegisteredAt time.Time
}

// LeaderboardEntry is a single ranked player on a leaderboard
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Tag         int    `json:"tag"`
	Points      int    `json:"points"`
	Movement    int    `json:"movement"`
}

// Leaderboard is the mirrored leaderboard for one scope
type Leaderboard struct {
	Scope   string             `json:"scope,omitempty"`
	Entries []LeaderboardEntry `json:"entries"`
}

// RoundState represents the lifecycle of a round
type RoundState string

const (
	RoundStateUpcoming   RoundState = "upcoming"
	RoundStateInProgress RoundState = "in_progress"
	RoundStateFinalized  RoundState = "finalized"
	RoundStateDeleted    RoundState = "deleted"
)

// RoundParticipant is a player's standing in a round
type RoundParticipant struct {
	UserID   string `json:"userId"`
	Response string `json:"response,omitempty"`
	Score    *int   `json:"score,omitempty"`
	Tag      int    `json:"tag,omitempty"`
}

// Round is a mirrored round
type Round struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	State        RoundState         `json:"state"`
	Location     string             `json:"location,omitempty"`
	StartTime    *time.Time         `json:"startTime,omitempty"`
	Participants []RoundParticipant `json:"participants,omitempty"`
}

// UserProfile is a mirrored user profile
type UserProfile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Tag         int    `json:"tag,omitempty"`
}
