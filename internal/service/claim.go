package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// relatedThreshold is the minimum cosine similarity for a claim to be
	// surfaced as related.
	relatedThreshold = 0.75
	relatedLimit     = 10
)

var (
	ErrClaimSuperseded = errors.New("claim has been superseded")
	ErrClaimCited      = errors.New("claim is cited as pattern evidence")
	ErrInvalidClaim    = errors.New("invalid claim")
)

type ClaimService struct {
	claimStore   domain.ClaimStore
	patternStore domain.PatternStore
	embedder     domain.EmbeddingClient
	logger       *zap.Logger
}

func NewClaimService(claimStore domain.ClaimStore, patternStore domain.PatternStore, embedder domain.EmbeddingClient, logger *zap.Logger) *ClaimService {
	return &ClaimService{
		claimStore:   claimStore,
		patternStore: patternStore,
		embedder:     embedder,
		logger:       logger,
	}
}

type SubmitClaimInput struct {
	TenantID   uuid.UUID
	AuthorID   uuid.UUID
	Assertion  string
	Confidence float64
	Evidence   []domain.EvidenceRef
	Context    domain.ClaimContext
}

func (in SubmitClaimInput) validate() error {
	if in.Assertion == "" {
		return fmt.Errorf("%w: assertion is required", ErrInvalidClaim)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be in [0, 1]", ErrInvalidClaim)
	}
	return nil
}

// Submit creates an immutable claim. Embedding failures are tolerated:
// the claim lands without similarity search rather than being rejected.
func (s *ClaimService) Submit(ctx context.Context, in SubmitClaimInput) (*domain.Claim, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := &domain.Claim{
		TenantID:   in.TenantID,
		AuthorID:   in.AuthorID,
		Assertion:  in.Assertion,
		Confidence: in.Confidence,
		Evidence:   in.Evidence,
		Context:    in.Context,
	}

	embedding, err := s.embedder.Embed(ctx, in.Assertion)
	if err != nil {
		s.logger.Warn("claim embedding failed, storing without vector",
			zap.String("author_id", in.AuthorID.String()), zap.Error(err))
	} else {
		c.Embedding = embedding
	}

	if err := s.claimStore.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	return c, nil
}

func (s *ClaimService) Get(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Claim, error) {
	c, err := s.claimStore.GetByID(ctx, id, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return c, nil
}

// Revise supersedes a claim with a new one. The original is never mutated
// beyond gaining the supersession link; both remain readable.
func (s *ClaimService) Revise(ctx context.Context, id uuid.UUID, tenantID uuid.UUID, in SubmitClaimInput) (*domain.Claim, error) {
	prior, err := s.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if prior.SupersededBy != nil {
		return nil, ErrClaimSuperseded
	}

	in.TenantID = tenantID
	if in.AuthorID == uuid.Nil {
		in.AuthorID = prior.AuthorID
	}
	if in.Context == (domain.ClaimContext{}) {
		in.Context = prior.Context
	}

	revised, err := s.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.claimStore.MarkSuperseded(ctx, prior.ID, revised.ID); err != nil {
		return nil, fmt.Errorf("link superseded claim: %w", err)
	}
	return revised, nil
}

// Related returns claims semantically close to the given one, most
// similar first. Claims stored without an embedding have no neighbors.
func (s *ClaimService) Related(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) ([]domain.ClaimWithScore, error) {
	c, err := s.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if len(c.Embedding) == 0 {
		return nil, nil
	}

	matches, err := s.claimStore.FindSimilar(ctx, tenantID, c.Embedding, relatedThreshold, relatedLimit+1)
	if err != nil {
		return nil, fmt.Errorf("find similar claims: %w", err)
	}

	related := make([]domain.ClaimWithScore, 0, len(matches))
	for _, m := range matches {
		if m.ID == c.ID {
			continue
		}
		related = append(related, m)
		if len(related) == relatedLimit {
			break
		}
	}
	return related, nil
}

// Delete removes a claim unless a live pattern cites it as evidence.
func (s *ClaimService) Delete(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	if _, err := s.Get(ctx, id, tenantID); err != nil {
		return err
	}

	citations, err := s.patternStore.CountCitations(ctx, id)
	if err != nil {
		return fmt.Errorf("count pattern citations: %w", err)
	}
	if citations > 0 {
		return fmt.Errorf("%w: %d citations", ErrClaimCited, citations)
	}

	return s.claimStore.Delete(ctx, id, tenantID)
}
