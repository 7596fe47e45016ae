package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultImportanceThreshold gates which entries a high-priority sync
	// pushes.
	DefaultImportanceThreshold = 0.7

	// DefaultNormalSyncInterval is the periodic batch reconciliation
	// cadence.
	DefaultNormalSyncInterval = 5 * time.Minute

	pullBatchSize = 200
)

var (
	ErrMemoryMiss      = errors.New("memory entry not found")
	ErrSnapshotMissing = errors.New("snapshot not found")
	ErrBadTier         = errors.New("invalid memory tier")
)

// snapshotWindow tracks critical writes per key while a snapshot is held,
// so colliding critical writes can be kept as alternatives and flagged
// instead of silently overwritten.
type snapshotWindow struct {
	id             uuid.UUID
	participants   map[uuid.UUID]bool
	criticalWrites map[string]uuid.UUID // key -> first critical entry id in window
}

// MemoryTierService owns the three-tier hierarchy: per-participant working
// sets (L1) and specialized caches (L2) in process, and the shared
// append-only permanent store (L3) behind it.
type MemoryTierService struct {
	shared    domain.SharedMemoryStore
	snapshots domain.SnapshotStore
	conflicts domain.ConflictStore
	logger    *zap.Logger

	ImportanceThreshold float64
	NormalSyncInterval  time.Duration

	mu            sync.RWMutex
	working       map[uuid.UUID]map[string]domain.MemoryEntry
	cache         map[uuid.UUID]map[string]domain.MemoryEntry
	pulledVersion map[uuid.UUID]int64
	windows       map[uuid.UUID]*snapshotWindow
	snapshotViews map[uuid.UUID]map[string]domain.MemoryEntry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewMemoryTierService(shared domain.SharedMemoryStore, snapshots domain.SnapshotStore, conflicts domain.ConflictStore, logger *zap.Logger) *MemoryTierService {
	return &MemoryTierService{
		shared:              shared,
		snapshots:           snapshots,
		conflicts:           conflicts,
		logger:              logger,
		ImportanceThreshold: DefaultImportanceThreshold,
		NormalSyncInterval:  DefaultNormalSyncInterval,
		working:             make(map[uuid.UUID]map[string]domain.MemoryEntry),
		cache:               make(map[uuid.UUID]map[string]domain.MemoryEntry),
		pulledVersion:       make(map[uuid.UUID]int64),
		windows:             make(map[uuid.UUID]*snapshotWindow),
		snapshotViews:       make(map[uuid.UUID]map[string]domain.MemoryEntry),
		stopCh:              make(chan struct{}),
	}
}

// Start runs periodic normal-priority reconciliation in the background.
func (s *MemoryTierService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.NormalSyncInterval)
		defer ticker.Stop()

		s.logger.Info("memory reconciliation started", zap.Duration("interval", s.NormalSyncInterval))

		for {
			select {
			case <-ticker.C:
				s.reconcileAll()
			case <-s.stopCh:
				s.logger.Info("memory reconciliation stopped")
				return
			}
		}
	}()
}

func (s *MemoryTierService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *MemoryTierService) reconcileAll() {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.working))
	for id := range s.working {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		res := s.Sync(context.Background(), id, domain.SyncNormal)
		if res.Partial {
			s.logger.Warn("normal sync incomplete",
				zap.String("participant_id", id.String()),
				zap.Int("pushed", res.Pushed),
				zap.Int("pulled", res.Pulled))
		}
	}
}

// Get reads a key from one tier. Snapshot reads go through ReadSnapshot.
func (s *MemoryTierService) Get(ctx context.Context, participantID uuid.UUID, key string, tier domain.MemoryTier) (*domain.MemoryEntry, error) {
	switch tier {
	case domain.TierWorking, domain.TierCache:
		s.mu.RLock()
		defer s.mu.RUnlock()
		m := s.working[participantID]
		if tier == domain.TierCache {
			m = s.cache[participantID]
		}
		if e, ok := m[key]; ok {
			return &e, nil
		}
		return nil, ErrMemoryMiss
	case domain.TierShared:
		e, err := s.shared.GetLatest(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrMemoryMiss
			}
			return nil, err
		}
		return e, nil
	default:
		return nil, ErrBadTier
	}
}

// Put writes an entry to a tier. Shared-tier writes append a new version;
// critical shared writes inside a live snapshot window are conflict-checked.
// High-importance working-set writes trigger an asynchronous high-priority
// push so the shared store never lags far behind on facts that matter.
func (s *MemoryTierService) Put(ctx context.Context, participantID uuid.UUID, entry domain.MemoryEntry, tier domain.MemoryTier) error {
	entry.ParticipantID = participantID
	if entry.WritePriority == "" {
		entry.WritePriority = domain.SyncNormal
	}
	entry.WrittenAt = time.Now()

	switch tier {
	case domain.TierWorking, domain.TierCache:
		s.mu.Lock()
		tierMap := s.working
		if tier == domain.TierCache {
			tierMap = s.cache
		}
		if tierMap[participantID] == nil {
			tierMap[participantID] = make(map[string]domain.MemoryEntry)
		}
		existing, exists := tierMap[participantID][entry.Key]
		if !exists || mergeWins(entry, existing) {
			tierMap[participantID][entry.Key] = entry
		}
		important := entry.Importance >= s.ImportanceThreshold
		s.mu.Unlock()

		if important && tier == domain.TierWorking {
			go func() {
				res := s.Sync(context.Background(), participantID, domain.SyncHigh)
				if res.Partial {
					s.logger.Warn("high-priority push incomplete",
						zap.String("participant_id", participantID.String()))
				}
			}()
		}
		return nil

	case domain.TierShared:
		return s.appendShared(ctx, &entry)

	default:
		return ErrBadTier
	}
}

func (s *MemoryTierService) appendShared(ctx context.Context, entry *domain.MemoryEntry) error {
	// Two critical writes to the same key inside one snapshot window: keep
	// both, flag for human review, drop nothing.
	if entry.WritePriority == domain.SyncCritical {
		s.mu.Lock()
		for _, w := range s.windows {
			if firstID, ok := w.criticalWrites[entry.Key]; ok {
				entry.Alternative = true
				s.mu.Unlock()
				if err := s.shared.Append(ctx, entry); err != nil {
					return fmt.Errorf("append alternative entry: %w", err)
				}
				conflict := &domain.MemoryConflict{
					SnapshotID: w.id,
					Key:        entry.Key,
					FirstID:    firstID,
					SecondID:   entry.ID,
				}
				if err := s.conflicts.Create(ctx, conflict); err != nil {
					return fmt.Errorf("record memory conflict: %w", err)
				}
				s.logger.Warn("conflicting critical writes retained",
					zap.String("key", entry.Key),
					zap.String("snapshot_id", w.id.String()))
				return nil
			}
		}
		s.mu.Unlock()
	}

	if err := s.shared.Append(ctx, entry); err != nil {
		return fmt.Errorf("append shared entry: %w", err)
	}

	if entry.WritePriority == domain.SyncCritical {
		s.mu.Lock()
		for _, w := range s.windows {
			if _, ok := w.criticalWrites[entry.Key]; !ok {
				w.criticalWrites[entry.Key] = entry.ID
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Sync runs one synchronization pass for a participant at the given
// priority. It always returns within the priority's deadline; running out
// of budget yields a partial result, not an error.
func (s *MemoryTierService) Sync(ctx context.Context, participantID uuid.UUID, priority domain.SyncPriority) domain.SyncResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, priority.Deadline())
	defer cancel()

	res := domain.SyncResult{Priority: priority}

	// Push phase: working-set entries out to the shared store.
	s.mu.RLock()
	var toPush []domain.MemoryEntry
	for _, e := range s.working[participantID] {
		if priority == domain.SyncHigh && e.Importance < s.ImportanceThreshold {
			continue
		}
		toPush = append(toPush, e)
	}
	s.mu.RUnlock()

	for _, e := range toPush {
		if ctx.Err() != nil {
			res.Partial = true
			break
		}
		e.WritePriority = priority
		if err := s.appendShared(ctx, &e); err != nil {
			s.logger.Warn("sync push failed", zap.String("key", e.Key), zap.Error(err))
			res.Partial = true
			break
		}
		res.Pushed++
	}

	// Pull phase: new shared versions into the specialized cache.
	// High-priority syncs are push-only.
	if priority != domain.SyncHigh && ctx.Err() == nil {
		s.mu.RLock()
		since := s.pulledVersion[participantID]
		s.mu.RUnlock()

		for ctx.Err() == nil {
			entries, err := s.shared.GetSince(ctx, since, pullBatchSize)
			if err != nil {
				s.logger.Warn("sync pull failed", zap.Error(err))
				res.Partial = true
				break
			}
			if len(entries) == 0 {
				break
			}
			s.mu.Lock()
			if s.cache[participantID] == nil {
				s.cache[participantID] = make(map[string]domain.MemoryEntry)
			}
			for _, e := range entries {
				if e.Alternative {
					continue
				}
				existing, exists := s.cache[participantID][e.Key]
				if !exists || mergeWins(e, existing) {
					s.cache[participantID][e.Key] = e
				}
				if e.Version > since {
					since = e.Version
				}
				res.Pulled++
			}
			s.pulledVersion[participantID] = since
			s.mu.Unlock()
			if len(entries) < pullBatchSize {
				break
			}
		}
	}

	if ctx.Err() != nil {
		res.Partial = true
	}
	res.Elapsed = time.Since(start)

	s.logger.Debug("memory sync",
		zap.String("participant_id", participantID.String()),
		zap.String("priority", string(priority)),
		zap.Int("pushed", res.Pushed),
		zap.Int("pulled", res.Pulled),
		zap.Bool("partial", res.Partial),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// mergeWins reports whether the incoming entry beats the existing one:
// higher write priority wins, ties go to the latest timestamp.
func mergeWins(incoming, existing domain.MemoryEntry) bool {
	ir, er := priorityRank(incoming.WritePriority), priorityRank(existing.WritePriority)
	if ir != er {
		return ir > er
	}
	return !incoming.WrittenAt.Before(existing.WrittenAt)
}

func priorityRank(p domain.SyncPriority) int {
	switch p {
	case domain.SyncCritical:
		return 2
	case domain.SyncHigh:
		return 1
	default:
		return 0
	}
}

// Snapshot freezes a consistent view over the participants' tiers plus the
// shared store. Entries are copied at capture, so writes issued afterwards
// are invisible to snapshot readers.
func (s *MemoryTierService) Snapshot(ctx context.Context, tenantID uuid.UUID, participants []uuid.UUID, topic string) (uuid.UUID, error) {
	view := make(map[string]domain.MemoryEntry)

	for _, pid := range participants {
		shared, err := s.shared.GetByParticipant(ctx, pid, 0)
		if err != nil {
			return uuid.Nil, fmt.Errorf("load shared entries: %w", err)
		}
		for _, e := range shared {
			mergeInto(view, e)
		}
	}

	s.mu.RLock()
	for _, pid := range participants {
		for _, e := range s.cache[pid] {
			mergeInto(view, e)
		}
		for _, e := range s.working[pid] {
			mergeInto(view, e)
		}
	}
	s.mu.RUnlock()

	maxVersion, err := s.shared.MaxVersion(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("read shared watermark: %w", err)
	}

	snap := &domain.MemorySnapshot{
		TenantID:      tenantID,
		Participants:  participants,
		Topic:         topic,
		Entries:       view,
		SharedVersion: maxVersion,
	}
	if err := s.snapshots.Create(ctx, snap); err != nil {
		return uuid.Nil, fmt.Errorf("persist snapshot: %w", err)
	}

	pset := make(map[uuid.UUID]bool, len(participants))
	for _, pid := range participants {
		pset[pid] = true
	}

	s.mu.Lock()
	s.windows[snap.ID] = &snapshotWindow{
		id:             snap.ID,
		participants:   pset,
		criticalWrites: make(map[string]uuid.UUID),
	}
	s.snapshotViews[snap.ID] = view
	s.mu.Unlock()

	s.logger.Info("memory snapshot captured",
		zap.String("snapshot_id", snap.ID.String()),
		zap.String("topic", topic),
		zap.Int("entries", len(view)))
	return snap.ID, nil
}

func mergeInto(view map[string]domain.MemoryEntry, e domain.MemoryEntry) {
	existing, ok := view[e.Key]
	if !ok || mergeWins(e, existing) {
		view[e.Key] = e
	}
}

// ReadSnapshot serves a key from a held snapshot's frozen view.
func (s *MemoryTierService) ReadSnapshot(ctx context.Context, snapshotID uuid.UUID, key string) (*domain.MemoryEntry, error) {
	s.mu.RLock()
	view, ok := s.snapshotViews[snapshotID]
	s.mu.RUnlock()

	if !ok {
		// Fall back to the persisted copy (snapshot taken before a restart).
		snap, err := s.snapshots.GetByID(ctx, snapshotID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrSnapshotMissing
			}
			return nil, err
		}
		view = snap.Entries
	}

	if e, ok := view[key]; ok {
		return &e, nil
	}
	return nil, ErrMemoryMiss
}

// Release ends a snapshot window. Cancellation paths call this to drop the
// snapshot lock immediately.
func (s *MemoryTierService) Release(ctx context.Context, snapshotID uuid.UUID) error {
	s.mu.Lock()
	delete(s.windows, snapshotID)
	delete(s.snapshotViews, snapshotID)
	s.mu.Unlock()

	if err := s.snapshots.Release(ctx, snapshotID, time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("release snapshot: %w", err)
	}
	return nil
}
