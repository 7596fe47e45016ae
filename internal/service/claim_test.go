package service

import (
	"context"
	"errors"
	"testing"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
)

type claimFixture struct {
	svc      *ClaimService
	claims   *mockClaimStore
	patterns *mockPatternStore
	embedder *mockEmbedder
}

func newClaimFixture() *claimFixture {
	claims := newMockClaimStore()
	patterns := newMockPatternStore()
	embedder := &mockEmbedder{}
	return &claimFixture{
		svc:      NewClaimService(claims, patterns, embedder, testLogger()),
		claims:   claims,
		patterns: patterns,
		embedder: embedder,
	}
}

func submitClaim(t *testing.T, f *claimFixture, tenantID uuid.UUID) *domain.Claim {
	t.Helper()
	c, err := f.svc.Submit(context.Background(), SubmitClaimInput{
		TenantID:   tenantID,
		AuthorID:   uuid.New(),
		Assertion:  "semiconductor margins compress in a downturn",
		Confidence: 0.7,
		Context:    domain.ClaimContext{Sector: "semis", Metric: "margin", Regime: "bear"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return c
}

func TestSubmitValidation(t *testing.T) {
	f := newClaimFixture()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, SubmitClaimInput{TenantID: uuid.New(), AuthorID: uuid.New(), Confidence: 0.5})
	if !errors.Is(err, ErrInvalidClaim) {
		t.Errorf("empty assertion: err = %v, want ErrInvalidClaim", err)
	}

	_, err = f.svc.Submit(ctx, SubmitClaimInput{TenantID: uuid.New(), AuthorID: uuid.New(), Assertion: "x", Confidence: 1.2})
	if !errors.Is(err, ErrInvalidClaim) {
		t.Errorf("confidence out of range: err = %v, want ErrInvalidClaim", err)
	}
}

func TestSubmitToleratesEmbeddingFailure(t *testing.T) {
	f := newClaimFixture()
	f.embedder.fail = true
	tenantID := uuid.New()

	c := submitClaim(t, f, tenantID)
	if len(c.Embedding) != 0 {
		t.Error("claim stored with an embedding despite provider failure")
	}

	// Claims without vectors simply have no neighbors.
	related, err := f.svc.Related(context.Background(), c.ID, tenantID)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if related != nil {
		t.Errorf("related = %v, want nil for an unembedded claim", related)
	}
}

func TestReviseSupersedes(t *testing.T) {
	f := newClaimFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	original := submitClaim(t, f, tenantID)

	revised, err := f.svc.Revise(ctx, original.ID, tenantID, SubmitClaimInput{
		Assertion:  "semiconductor margins compress sharply in a downturn",
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}

	// The revision inherits author and context when unset.
	if revised.AuthorID != original.AuthorID {
		t.Error("revision did not inherit the author")
	}
	if revised.Context != original.Context {
		t.Error("revision did not inherit the context")
	}

	// The original gains only the supersession link and stays readable.
	stored, err := f.svc.Get(ctx, original.ID, tenantID)
	if err != nil {
		t.Fatalf("Get original: %v", err)
	}
	if stored.SupersededBy == nil || *stored.SupersededBy != revised.ID {
		t.Error("original not linked to its revision")
	}
	if stored.Assertion != original.Assertion {
		t.Error("original assertion mutated by revision")
	}

	// A superseded claim cannot be revised again.
	_, err = f.svc.Revise(ctx, original.ID, tenantID, SubmitClaimInput{Assertion: "y", Confidence: 0.5})
	if !errors.Is(err, ErrClaimSuperseded) {
		t.Errorf("revise of superseded claim: err = %v, want ErrClaimSuperseded", err)
	}
}

func TestRelatedFiltersSelf(t *testing.T) {
	f := newClaimFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	c := submitClaim(t, f, tenantID)
	neighbor := submitClaim(t, f, tenantID)

	f.claims.similar = []domain.ClaimWithScore{
		{Claim: *c, Score: 1.0},
		{Claim: *neighbor, Score: 0.9},
	}

	related, err := f.svc.Related(ctx, c.ID, tenantID)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("related = %d claims, want the self-match dropped", len(related))
	}
	if related[0].ID != neighbor.ID {
		t.Errorf("related claim = %s, want %s", related[0].ID, neighbor.ID)
	}
}

func TestDeleteBlockedByCitation(t *testing.T) {
	f := newClaimFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	c := submitClaim(t, f, tenantID)

	p := &domain.Pattern{
		TenantID:         tenantID,
		Description:      "cites the claim",
		Status:           domain.PatternActive,
		EvidenceClaimIDs: []uuid.UUID{c.ID},
	}
	if err := f.patterns.Create(ctx, p); err != nil {
		t.Fatalf("Create pattern: %v", err)
	}

	if err := f.svc.Delete(ctx, c.ID, tenantID); !errors.Is(err, ErrClaimCited) {
		t.Errorf("delete of cited claim: err = %v, want ErrClaimCited", err)
	}

	// Deprecated patterns do not count as citations.
	p.Status = domain.PatternDeprecated
	if err := f.patterns.Update(ctx, p); err != nil {
		t.Fatalf("Update pattern: %v", err)
	}
	if err := f.svc.Delete(ctx, c.ID, tenantID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := f.svc.Get(ctx, c.ID, tenantID); !errors.Is(err, ErrClaimNotFound) {
		t.Errorf("get after delete: err = %v, want ErrClaimNotFound", err)
	}
}
