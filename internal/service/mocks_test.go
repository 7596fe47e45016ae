package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// mockSharedMemoryStore implements domain.SharedMemoryStore in memory.
type mockSharedMemoryStore struct {
	mu      sync.Mutex
	entries []domain.MemoryEntry
	version int64
}

func newMockSharedMemoryStore() *mockSharedMemoryStore {
	return &mockSharedMemoryStore{}
}

func (m *mockSharedMemoryStore) Append(ctx context.Context, e *domain.MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	m.version++
	e.Version = m.version
	if e.WrittenAt.IsZero() {
		e.WrittenAt = time.Now()
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockSharedMemoryStore) GetLatest(ctx context.Context, key string) (*domain.MemoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.Key == key && !e.Alternative {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockSharedMemoryStore) GetSince(ctx context.Context, version int64, limit int) ([]domain.MemoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemoryEntry
	for _, e := range m.entries {
		if e.Version > version {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockSharedMemoryStore) GetByParticipant(ctx context.Context, participantID uuid.UUID, limit int) ([]domain.MemoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemoryEntry
	for _, e := range m.entries {
		if e.ParticipantID == participantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockSharedMemoryStore) MaxVersion(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, nil
}

// mockSnapshotStore implements domain.SnapshotStore.
type mockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*domain.MemorySnapshot
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{snapshots: make(map[uuid.UUID]*domain.MemorySnapshot)}
}

func (m *mockSnapshotStore) Create(ctx context.Context, s *domain.MemorySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CapturedAt = time.Now()
	cp := *s
	m.snapshots[s.ID] = &cp
	return nil
}

func (m *mockSnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MemorySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSnapshotStore) Release(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok || s.ReleasedAt != nil {
		return store.ErrNotFound
	}
	s.ReleasedAt = &at
	return nil
}

func (m *mockSnapshotStore) released(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	return ok && s.ReleasedAt != nil
}

// mockConflictStore implements domain.ConflictStore.
type mockConflictStore struct {
	mu        sync.Mutex
	conflicts []domain.MemoryConflict
}

func newMockConflictStore() *mockConflictStore {
	return &mockConflictStore{}
}

func (m *mockConflictStore) Create(ctx context.Context, c *domain.MemoryConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.DetectedAt = time.Now()
	m.conflicts = append(m.conflicts, *c)
	return nil
}

func (m *mockConflictStore) ListUnresolved(ctx context.Context) ([]domain.MemoryConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemoryConflict
	for _, c := range m.conflicts {
		if c.ResolvedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockConflictStore) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.conflicts {
		if m.conflicts[i].ID == id {
			m.conflicts[i].ResolvedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockConflictStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conflicts)
}

// mockCredibilityStore implements domain.CredibilityStore.
type mockCredibilityStore struct {
	mu      sync.Mutex
	samples []domain.OutcomeSample
	records map[string]*domain.CredibilityRecord
}

func newMockCredibilityStore() *mockCredibilityStore {
	return &mockCredibilityStore{records: make(map[string]*domain.CredibilityRecord)}
}

func recordKey(participantID uuid.UUID, contextKey string) string {
	return participantID.String() + "|" + contextKey
}

func (m *mockCredibilityStore) AppendSample(ctx context.Context, s *domain.OutcomeSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	m.samples = append(m.samples, *s)
	return nil
}

func (m *mockCredibilityStore) GetSamples(ctx context.Context, participantID uuid.UUID, contextKey string, since time.Time) ([]domain.OutcomeSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutcomeSample
	for _, s := range m.samples {
		if s.ParticipantID == participantID && s.Context == contextKey && s.RecordedAt.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockCredibilityStore) GetAllSamples(ctx context.Context, participantID uuid.UUID) ([]domain.OutcomeSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutcomeSample
	for _, s := range m.samples {
		if s.ParticipantID == participantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockCredibilityStore) UpsertRecord(ctx context.Context, r *domain.CredibilityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.LastUpdated = time.Now()
	cp := *r
	m.records[recordKey(r.ParticipantID, r.Context)] = &cp
	return nil
}

func (m *mockCredibilityStore) GetRecord(ctx context.Context, participantID uuid.UUID, contextKey string) (*domain.CredibilityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey(participantID, contextKey)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// mockParticipantStore implements domain.ParticipantStore.
type mockParticipantStore struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*domain.Participant
}

func newMockParticipantStore() *mockParticipantStore {
	return &mockParticipantStore{participants: make(map[uuid.UUID]*domain.Participant)}
}

func (m *mockParticipantStore) Create(ctx context.Context, p *domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.participants[p.ID] = &cp
	return nil
}

func (m *mockParticipantStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockParticipantStore) GetByExternalID(ctx context.Context, externalID string, tenantID uuid.UUID) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.ExternalID == externalID && p.TenantID == tenantID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// mockClaimStore implements domain.ClaimStore.
type mockClaimStore struct {
	mu      sync.Mutex
	claims  map[uuid.UUID]*domain.Claim
	similar []domain.ClaimWithScore
}

func newMockClaimStore() *mockClaimStore {
	return &mockClaimStore{claims: make(map[uuid.UUID]*domain.Claim)}
}

func (m *mockClaimStore) Create(ctx context.Context, c *domain.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	cp := *c
	m.claims[c.ID] = &cp
	return nil
}

func (m *mockClaimStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimStore) MarkSuperseded(ctx context.Context, id uuid.UUID, successorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.SupersededBy != nil {
		return store.ErrNotFound
	}
	c.SupersededBy = &successorID
	return nil
}

func (m *mockClaimStore) FindSimilar(ctx context.Context, tenantID uuid.UUID, embedding []float32, threshold float32, limit int) ([]domain.ClaimWithScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.similar, nil
}

func (m *mockClaimStore) Delete(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok || c.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(m.claims, id)
	return nil
}

// mockChallengeStore implements domain.ChallengeStore.
type mockChallengeStore struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]*domain.Challenge
}

func newMockChallengeStore() *mockChallengeStore {
	return &mockChallengeStore{challenges: make(map[uuid.UUID]*domain.Challenge)}
}

func (m *mockChallengeStore) Create(ctx context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.challenges[c.ID] = &cp
	return nil
}

func (m *mockChallengeStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || c.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockChallengeStore) Update(ctx context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	cp := *c
	m.challenges[c.ID] = &cp
	return nil
}

func (m *mockChallengeStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Challenge
	for _, c := range m.challenges {
		if c.TenantID == tenantID && !c.State.Terminal() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockChallengeStore) ListOpen(ctx context.Context) ([]domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Challenge
	for _, c := range m.challenges {
		if !c.State.Terminal() {
			out = append(out, *c)
		}
	}
	return out, nil
}

// mockResolutionStore implements domain.ResolutionStore.
type mockResolutionStore struct {
	mu          sync.Mutex
	resolutions []*domain.Resolution
	tasks       []domain.RecomputeTask
}

func newMockResolutionStore() *mockResolutionStore {
	return &mockResolutionStore{}
}

func (m *mockResolutionStore) Create(ctx context.Context, r *domain.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.resolutions = append(m.resolutions, &cp)
	return nil
}

func (m *mockResolutionStore) GetByChallengeID(ctx context.Context, challengeID uuid.UUID) (*domain.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.resolutions) - 1; i >= 0; i-- {
		r := m.resolutions[i]
		if r.ChallengeID == challengeID && r.SupersededBy == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockResolutionStore) MarkSuperseded(ctx context.Context, id uuid.UUID, successorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resolutions {
		if r.ID == id && r.SupersededBy == nil {
			r.SupersededBy = &successorID
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockResolutionStore) ListProvisional(ctx context.Context, tenantID uuid.UUID) ([]domain.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Resolution
	for _, r := range m.resolutions {
		if r.IsProvisional && r.SupersededBy == nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockResolutionStore) CreateRecomputeTask(ctx context.Context, t *domain.RecomputeTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.tasks = append(m.tasks, *t)
	return nil
}

func (m *mockResolutionStore) taskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *mockResolutionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resolutions)
}

// mockPatternStore implements domain.PatternStore.
type mockPatternStore struct {
	mu          sync.Mutex
	patterns    map[uuid.UUID]*domain.Pattern
	occurrences map[uuid.UUID][]domain.PatternOccurrence
	transitions map[uuid.UUID][]domain.PatternTransition
}

func newMockPatternStore() *mockPatternStore {
	return &mockPatternStore{
		patterns:    make(map[uuid.UUID]*domain.Pattern),
		occurrences: make(map[uuid.UUID][]domain.PatternOccurrence),
		transitions: make(map[uuid.UUID][]domain.PatternTransition),
	}
}

func (m *mockPatternStore) Create(ctx context.Context, p *domain.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patterns[p.ID] = &cp
	return nil
}

func (m *mockPatternStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatternStore) Update(ctx context.Context, p *domain.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patterns[p.ID]; !ok {
		return store.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.patterns[p.ID] = &cp
	return nil
}

func (m *mockPatternStore) ListByStatus(ctx context.Context, status domain.PatternStatus) ([]domain.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Pattern
	for _, p := range m.patterns {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPatternStore) AppendOccurrence(ctx context.Context, o *domain.PatternOccurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	m.occurrences[o.PatternID] = append(m.occurrences[o.PatternID], *o)
	return nil
}

func (m *mockPatternStore) GetOccurrences(ctx context.Context, patternID uuid.UUID) ([]domain.PatternOccurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.PatternOccurrence(nil), m.occurrences[patternID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *mockPatternStore) AppendTransition(ctx context.Context, t *domain.PatternTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now()
	}
	m.transitions[t.PatternID] = append(m.transitions[t.PatternID], *t)
	return nil
}

func (m *mockPatternStore) GetTransitions(ctx context.Context, patternID uuid.UUID) ([]domain.PatternTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PatternTransition(nil), m.transitions[patternID]...), nil
}

func (m *mockPatternStore) CountCitations(ctx context.Context, claimID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.patterns {
		if p.Status == domain.PatternDeprecated {
			continue
		}
		for _, id := range p.EvidenceClaimIDs {
			if id == claimID {
				count++
				break
			}
		}
	}
	return count, nil
}

// mockReviewStore implements domain.ReviewStore.
type mockReviewStore struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*domain.ReviewItem
	order     []uuid.UUID
	decisions []domain.ReviewDecision
	updateErr error
}

func newMockReviewStore() *mockReviewStore {
	return &mockReviewStore{items: make(map[uuid.UUID]*domain.ReviewItem)}
}

func (m *mockReviewStore) Create(ctx context.Context, item *domain.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.EnqueuedAt = time.Now()
	cp := *item
	m.items[item.ID] = &cp
	m.order = append(m.order, item.ID)
	return nil
}

func (m *mockReviewStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *mockReviewStore) Update(ctx context.Context, item *domain.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.items[item.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockReviewStore) ListPending(ctx context.Context, tenantID uuid.UUID) ([]domain.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReviewItem
	for _, id := range m.order {
		item := m.items[id]
		if item.TenantID == tenantID && (item.State == domain.ReviewPending || item.State == domain.ReviewAssigned) {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (m *mockReviewStore) RecordDecision(ctx context.Context, d *domain.ReviewDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return nil
}

func (m *mockReviewStore) setUpdateErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

func (m *mockReviewStore) itemsByKind(kind domain.ReviewKind) []domain.ReviewItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReviewItem
	for _, id := range m.order {
		if m.items[id].Kind == kind {
			out = append(out, *m.items[id])
		}
	}
	return out
}

// mockEmbedder returns a fixed deterministic vector.
type mockEmbedder struct {
	fail bool
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.fail {
		return nil, errors.New("embedding unavailable")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}
