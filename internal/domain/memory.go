package domain

import (
	"time"

	"github.com/google/uuid"
)

type MemoryTier string

const (
	// TierWorking is a participant's in-process working set (L1).
	TierWorking MemoryTier = "working"
	// TierCache is a participant's specialized cache (L2).
	TierCache MemoryTier = "cache"
	// TierShared is the shared permanent store (L3), append-only.
	TierShared MemoryTier = "shared"
)

func ValidTier(t string) bool {
	switch MemoryTier(t) {
	case TierWorking, TierCache, TierShared:
		return true
	}
	return false
}

type SyncPriority string

const (
	SyncCritical SyncPriority = "critical"
	SyncHigh     SyncPriority = "high"
	SyncNormal   SyncPriority = "normal"
)

func ValidSyncPriority(p string) bool {
	switch SyncPriority(p) {
	case SyncCritical, SyncHigh, SyncNormal:
		return true
	}
	return false
}

// Deadline is the hard time budget for a sync at this priority. A sync
// that exhausts it returns a partial result, never an error and never an
// unbounded wait.
func (p SyncPriority) Deadline() time.Duration {
	switch p {
	case SyncCritical:
		return 2 * time.Second
	case SyncHigh:
		return 10 * time.Second
	default:
		return 5 * time.Minute
	}
}

// MemoryEntry is one versioned key/value fact. Writes to the shared tier
// append new versions; in-place mutation never happens there.
type MemoryEntry struct {
	ID            uuid.UUID      `json:"id"`
	Key           string         `json:"key"`
	Value         map[string]any `json:"value"`
	ParticipantID uuid.UUID      `json:"participant_id"`
	Importance    float64        `json:"importance"`
	WritePriority SyncPriority   `json:"write_priority"`
	Version       int64          `json:"version"`
	Alternative   bool           `json:"alternative,omitempty"`
	WrittenAt     time.Time      `json:"written_at"`
}

// SyncResult reports what a sync moved. Partial means the priority's
// deadline expired first; callers proceed with what arrived.
type SyncResult struct {
	Priority SyncPriority  `json:"priority"`
	Pushed   int           `json:"pushed"`
	Pulled   int           `json:"pulled"`
	Partial  bool          `json:"partial"`
	Elapsed  time.Duration `json:"elapsed"`
}

// MemorySnapshot is an immutable point-in-time view. Entries are copied at
// capture; later writes to the live tiers are invisible to snapshot reads.
type MemorySnapshot struct {
	ID           uuid.UUID              `json:"id"`
	TenantID     uuid.UUID              `json:"tenant_id,omitempty"`
	Participants []uuid.UUID            `json:"participants"`
	Topic        string                 `json:"topic"`
	Entries      map[string]MemoryEntry `json:"entries"`
	// SharedVersion is the shared store's version watermark at capture.
	SharedVersion int64      `json:"shared_version"`
	CapturedAt    time.Time  `json:"captured_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
}

// MemoryConflict records two critical writes to the same key inside one
// snapshot window. Both versions are retained; a human resolves the pair.
type MemoryConflict struct {
	ID         uuid.UUID  `json:"id"`
	SnapshotID uuid.UUID  `json:"snapshot_id"`
	Key        string     `json:"key"`
	FirstID    uuid.UUID  `json:"first_id"`
	SecondID   uuid.UUID  `json:"second_id"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
}
