package service

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultReviewerCapacity is the hard cap on pending items per
	// reviewer. Backpressure, not buffering: beyond this, items bump or
	// defer.
	DefaultReviewerCapacity = 3

	defaultAgingInterval = time.Minute

	// agingRatePerHour raises an item's effective priority as it waits,
	// so low-priority items cannot starve.
	agingRatePerHour = 0.05

	// Priority score weights: impact magnitude, time-to-deadline urgency,
	// uncertainty.
	impactWeight       = 0.35
	urgencyWeight      = 0.25
	uncertaintyWeight  = 0.15
	basePriorityWeight = 0.25
)

var (
	ErrNoReviewer      = errors.New("reviewer not registered")
	ErrQueueEmpty      = errors.New("no pending review items")
	ErrItemNotQueued   = errors.New("review item not queued")
	ErrReviewerAtLimit = errors.New("reviewer queue at capacity")
)

type queuedItem struct {
	item  domain.ReviewItem
	score float64
	index int
}

type reviewQueue []*queuedItem

func (q reviewQueue) Len() int           { return len(q) }
func (q reviewQueue) Less(i, j int) bool { return q[i].score > q[j].score }
func (q reviewQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }

func (q *reviewQueue) Push(x any) {
	item := x.(*queuedItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *reviewQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

type reviewerState struct {
	id       uuid.UUID
	capacity int
	queue    reviewQueue
}

// ReviewScheduler routes resolution and validation requests to
// bounded-capacity human reviewers. Not FIFO: priority is a weighted
// function of impact, deadline proximity, and uncertainty, and grows
// monotonically with wait time.
type ReviewScheduler struct {
	reviewStore domain.ReviewStore
	logger      *zap.Logger

	// BumpHandler receives items displaced by critical arrivals; the
	// debate engine resolves them via conservative default. Never nil in
	// a wired system.
	BumpHandler func(item domain.ReviewItem)

	mu        sync.Mutex
	reviewers map[uuid.UUID]*reviewerState
	deferred  []*queuedItem
	waiters   map[uuid.UUID]chan domain.ReviewDecision

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReviewScheduler(rs domain.ReviewStore, logger *zap.Logger) *ReviewScheduler {
	return &ReviewScheduler{
		reviewStore: rs,
		logger:      logger,
		reviewers:   make(map[uuid.UUID]*reviewerState),
		waiters:     make(map[uuid.UUID]chan domain.ReviewDecision),
		interval:    defaultAgingInterval,
		stopCh:      make(chan struct{}),
	}
}

func (s *ReviewScheduler) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the aging pass on a periodic schedule. Each tick rescores
// queued items and retries deferred ones.
func (s *ReviewScheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("review scheduler started", zap.Duration("aging_interval", s.interval))

		for {
			select {
			case <-ticker.C:
				s.age()
			case <-s.stopCh:
				s.logger.Info("review scheduler stopped")
				return
			}
		}
	}()
}

func (s *ReviewScheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RegisterReviewer adds a reviewer with the given pending capacity.
// capacity <= 0 uses the default.
func (s *ReviewScheduler) RegisterReviewer(reviewerID uuid.UUID, capacity int) {
	if capacity <= 0 {
		capacity = DefaultReviewerCapacity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviewers[reviewerID]; !ok {
		s.reviewers[reviewerID] = &reviewerState{id: reviewerID, capacity: capacity}
	}
}

// priorityScore computes an item's scheduling score at time now. Scores
// only ever grow as the item waits.
func priorityScore(item domain.ReviewItem, now time.Time) float64 {
	score := basePriorityWeight * item.Priority.Weight()
	score += impactWeight * clamp01(item.Impact)
	score += uncertaintyWeight * clamp01(item.Uncertainty)

	untilDeadline := item.Deadline.Sub(now)
	if untilDeadline <= 0 {
		score += urgencyWeight
	} else {
		// Urgency ramps up over the final 24h.
		frac := 1 - untilDeadline.Hours()/24
		score += urgencyWeight * clamp01(frac)
	}

	waited := now.Sub(item.EnqueuedAt).Hours()
	if waited > 0 {
		score += agingRatePerHour * waited
	}
	return score
}

// Enqueue places an item with the least-loaded reviewer. At global
// capacity, critical items bump the lowest-priority pending item (handed
// to BumpHandler, never dropped); others are deferred to the next
// scheduling window. Returns the item's position in its queue.
func (s *ReviewScheduler) Enqueue(ctx context.Context, item *domain.ReviewItem) (int, error) {
	item.State = domain.ReviewPending
	if err := s.reviewStore.Create(ctx, item); err != nil {
		return 0, fmt.Errorf("persist review item: %w", err)
	}

	s.mu.Lock()

	target := s.leastLoadedLocked()
	if target == nil {
		s.mu.Unlock()
		return 0, ErrNoReviewer
	}

	if len(target.queue) >= target.capacity {
		if item.Priority != domain.PriorityCritical {
			qi := &queuedItem{item: *item, score: priorityScore(*item, time.Now())}
			s.deferred = append(s.deferred, qi)
			s.mu.Unlock()
			s.logger.Info("review item deferred: all reviewers at capacity",
				zap.String("item_id", item.ID.String()),
				zap.String("priority", string(item.Priority)))
			return len(s.deferred), nil
		}

		bumped := s.evictLowestLocked()
		s.mu.Unlock()
		if bumped != nil {
			s.markBumped(ctx, bumped.item)
		}
		s.mu.Lock()
		target = s.leastLoadedLocked()
	}

	qi := &queuedItem{item: *item, score: priorityScore(*item, time.Now())}
	heap.Push(&target.queue, qi)
	position := qi.index + 1
	s.mu.Unlock()

	s.logger.Debug("review item enqueued",
		zap.String("item_id", item.ID.String()),
		zap.String("reviewer_id", target.id.String()),
		zap.Int("position", position))
	return position, nil
}

// EnqueueAwait enqueues the item with its decision waiter already
// registered, so a ruling landing immediately after Enqueue is never lost.
func (s *ReviewScheduler) EnqueueAwait(ctx context.Context, item *domain.ReviewItem) (<-chan domain.ReviewDecision, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	ch := s.Await(item.ID)
	if _, err := s.Enqueue(ctx, item); err != nil {
		s.mu.Lock()
		delete(s.waiters, item.ID)
		s.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Requeue returns a bumped item to the deferred pool. It drains back into
// a reviewer queue on the next aging pass once capacity frees.
func (s *ReviewScheduler) Requeue(ctx context.Context, item domain.ReviewItem) error {
	item.State = domain.ReviewPending
	item.ReviewerID = nil
	item.DecidedAt = nil
	if err := s.reviewStore.Update(ctx, &item); err != nil {
		return fmt.Errorf("persist requeue: %w", err)
	}

	s.mu.Lock()
	s.deferred = append(s.deferred, &queuedItem{item: item, score: priorityScore(item, time.Now())})
	s.mu.Unlock()

	s.logger.Info("bumped review item returned to the deferred pool",
		zap.String("item_id", item.ID.String()),
		zap.String("kind", string(item.Kind)))
	return nil
}

func (s *ReviewScheduler) leastLoadedLocked() *reviewerState {
	var best *reviewerState
	for _, r := range s.reviewers {
		if best == nil || len(r.queue)-r.capacity < len(best.queue)-best.capacity {
			best = r
		}
	}
	return best
}

// evictLowestLocked removes the globally lowest-scored pending item.
func (s *ReviewScheduler) evictLowestLocked() *queuedItem {
	var victim *queuedItem
	var victimQueue *reviewQueue
	for _, r := range s.reviewers {
		for _, qi := range r.queue {
			if victim == nil || qi.score < victim.score {
				victim = qi
				victimQueue = &r.queue
			}
		}
	}
	if victim == nil {
		return nil
	}
	heap.Remove(victimQueue, victim.index)
	return victim
}

func (s *ReviewScheduler) markBumped(ctx context.Context, item domain.ReviewItem) {
	item.State = domain.ReviewBumped
	now := time.Now()
	item.DecidedAt = &now
	if err := s.reviewStore.Update(ctx, &item); err != nil {
		s.logger.Warn("failed to persist bump", zap.String("item_id", item.ID.String()), zap.Error(err))
	}
	s.logger.Info("review item bumped for critical arrival", zap.String("item_id", item.ID.String()))
	if s.BumpHandler != nil {
		go s.BumpHandler(item)
	}
}

// Dequeue hands the reviewer their highest-priority pending item.
func (s *ReviewScheduler) Dequeue(ctx context.Context, reviewerID uuid.UUID) (*domain.ReviewItem, error) {
	s.mu.Lock()
	r, ok := s.reviewers[reviewerID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoReviewer
	}
	if r.queue.Len() == 0 {
		s.mu.Unlock()
		return nil, ErrQueueEmpty
	}
	qi := heap.Pop(&r.queue).(*queuedItem)
	s.mu.Unlock()

	qi.item.State = domain.ReviewAssigned
	qi.item.ReviewerID = &reviewerID
	if err := s.reviewStore.Update(ctx, &qi.item); err != nil {
		// The item is still pending as far as the store knows; put it back
		// so the queue agrees.
		qi.item.State = domain.ReviewPending
		qi.item.ReviewerID = nil
		s.mu.Lock()
		heap.Push(&r.queue, qi)
		s.mu.Unlock()
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	return &qi.item, nil
}

// Capacity reports remaining queue slots for a reviewer.
func (s *ReviewScheduler) Capacity(reviewerID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviewers[reviewerID]
	if !ok {
		return 0
	}
	remaining := r.capacity - len(r.queue)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Await returns the channel a caller blocks on (with its own deadline) for
// the item's decision.
func (s *ReviewScheduler) Await(itemID uuid.UUID) <-chan domain.ReviewDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiters[itemID]
	if !ok {
		ch = make(chan domain.ReviewDecision, 1)
		s.waiters[itemID] = ch
	}
	return ch
}

// Decide records a human ruling and wakes the waiter, if any.
func (s *ReviewScheduler) Decide(ctx context.Context, d domain.ReviewDecision) error {
	item, err := s.reviewStore.GetByID(ctx, d.ItemID)
	if err != nil {
		return ErrItemNotQueued
	}

	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	if err := s.reviewStore.RecordDecision(ctx, &d); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}

	item.State = domain.ReviewDecided
	item.ReviewerID = &d.ReviewerID
	item.DecidedAt = &d.DecidedAt
	if err := s.reviewStore.Update(ctx, item); err != nil {
		return fmt.Errorf("persist decision: %w", err)
	}

	s.mu.Lock()
	s.removeQueuedLocked(d.ItemID)
	ch, ok := s.waiters[d.ItemID]
	if ok {
		delete(s.waiters, d.ItemID)
	}
	s.mu.Unlock()

	if ok {
		ch <- d
	}
	return nil
}

func (s *ReviewScheduler) removeQueuedLocked(itemID uuid.UUID) {
	for _, r := range s.reviewers {
		for _, qi := range r.queue {
			if qi.item.ID == itemID {
				heap.Remove(&r.queue, qi.index)
				return
			}
		}
	}
	for i, qi := range s.deferred {
		if qi.item.ID == itemID {
			s.deferred = append(s.deferred[:i], s.deferred[i+1:]...)
			return
		}
	}
}

// age rescores every queued item and retries deferred items against freed
// capacity. Called from the ticker; exported behavior is tested via Age.
func (s *ReviewScheduler) age() {
	now := time.Now()

	s.mu.Lock()
	for _, r := range s.reviewers {
		for _, qi := range r.queue {
			qi.score = priorityScore(qi.item, now)
		}
		heap.Init(&r.queue)
	}

	var still []*queuedItem
	for _, qi := range s.deferred {
		target := s.leastLoadedLocked()
		if target != nil && len(target.queue) < target.capacity {
			qi.score = priorityScore(qi.item, now)
			heap.Push(&target.queue, qi)
			continue
		}
		qi.score = priorityScore(qi.item, now)
		still = append(still, qi)
	}
	s.deferred = still
	s.mu.Unlock()
}

// Age is the test hook for one aging pass.
func (s *ReviewScheduler) Age() { s.age() }
