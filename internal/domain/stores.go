package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Tenant, error)
}

type ParticipantStore interface {
	Create(ctx context.Context, p *Participant) error
	GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*Participant, error)
	GetByExternalID(ctx context.Context, externalID string, tenantID uuid.UUID) (*Participant, error)
}

type ClaimStore interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*Claim, error)
	MarkSuperseded(ctx context.Context, id uuid.UUID, successorID uuid.UUID) error
	FindSimilar(ctx context.Context, tenantID uuid.UUID, embedding []float32, threshold float32, limit int) ([]ClaimWithScore, error)
	Delete(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

type ChallengeStore interface {
	Create(ctx context.Context, c *Challenge) error
	GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*Challenge, error)
	Update(ctx context.Context, c *Challenge) error
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]Challenge, error)
	// ListOpen returns every non-terminal challenge across tenants, for
	// driver rehydration at startup.
	ListOpen(ctx context.Context) ([]Challenge, error)
}

type ResolutionStore interface {
	Create(ctx context.Context, r *Resolution) error
	GetByChallengeID(ctx context.Context, challengeID uuid.UUID) (*Resolution, error)
	MarkSuperseded(ctx context.Context, id uuid.UUID, successorID uuid.UUID) error
	ListProvisional(ctx context.Context, tenantID uuid.UUID) ([]Resolution, error)
	CreateRecomputeTask(ctx context.Context, t *RecomputeTask) error
}

type CredibilityStore interface {
	AppendSample(ctx context.Context, s *OutcomeSample) error
	GetSamples(ctx context.Context, participantID uuid.UUID, contextKey string, since time.Time) ([]OutcomeSample, error)
	GetAllSamples(ctx context.Context, participantID uuid.UUID) ([]OutcomeSample, error)
	UpsertRecord(ctx context.Context, r *CredibilityRecord) error
	GetRecord(ctx context.Context, participantID uuid.UUID, contextKey string) (*CredibilityRecord, error)
}

type PatternStore interface {
	Create(ctx context.Context, p *Pattern) error
	GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*Pattern, error)
	Update(ctx context.Context, p *Pattern) error
	ListByStatus(ctx context.Context, status PatternStatus) ([]Pattern, error)
	AppendOccurrence(ctx context.Context, o *PatternOccurrence) error
	GetOccurrences(ctx context.Context, patternID uuid.UUID) ([]PatternOccurrence, error)
	AppendTransition(ctx context.Context, t *PatternTransition) error
	GetTransitions(ctx context.Context, patternID uuid.UUID) ([]PatternTransition, error)
	CountCitations(ctx context.Context, claimID uuid.UUID) (int, error)
}

// SharedMemoryStore is the L3 permanent store. Writes are append-only (new
// versions); GetLatest returns the highest-version non-alternative entry.
type SharedMemoryStore interface {
	Append(ctx context.Context, e *MemoryEntry) error
	GetLatest(ctx context.Context, key string) (*MemoryEntry, error)
	GetSince(ctx context.Context, version int64, limit int) ([]MemoryEntry, error)
	GetByParticipant(ctx context.Context, participantID uuid.UUID, limit int) ([]MemoryEntry, error)
	MaxVersion(ctx context.Context) (int64, error)
}

type SnapshotStore interface {
	Create(ctx context.Context, s *MemorySnapshot) error
	GetByID(ctx context.Context, id uuid.UUID) (*MemorySnapshot, error)
	Release(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ConflictStore interface {
	Create(ctx context.Context, c *MemoryConflict) error
	ListUnresolved(ctx context.Context) ([]MemoryConflict, error)
	Resolve(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ReviewStore interface {
	Create(ctx context.Context, item *ReviewItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReviewItem, error)
	Update(ctx context.Context, item *ReviewItem) error
	ListPending(ctx context.Context, tenantID uuid.UUID) ([]ReviewItem, error)
	RecordDecision(ctx context.Context, d *ReviewDecision) error
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
