package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultCredibilityGap is the minimum score separation for the
	// credibility-weighted check to auto-resolve.
	DefaultCredibilityGap = 0.25

	// DefaultMandatoryReviewImpact: challenges at or above this impact
	// always get a human, regardless of score gap.
	DefaultMandatoryReviewImpact = 0.8

	// DefaultMaterialityThreshold: an override whose delta from the
	// provisional value exceeds this triggers downstream recomputation.
	DefaultMaterialityThreshold = 0.1

	DefaultNegotiationWindow = 15 * time.Minute
	DefaultMediationWindow   = 30 * time.Minute
)

var (
	ErrClaimNotFound        = errors.New("claim not found")
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrChallengeTerminal    = errors.New("challenge already terminal")
	ErrNotAParty            = errors.New("participant is not a party to this challenge")
	ErrResolutionNotFound   = errors.New("resolution not found")
	ErrResolutionNotPending = errors.New("resolution is not provisional")
)

type positionMsg struct {
	participantID uuid.UUID
	position      domain.ChallengePosition
}

// challengeDriver is the single writer for one challenge's state machine.
// All state advances happen on its goroutine; Respond and Cancel only send
// messages.
type challengeDriver struct {
	responses chan positionMsg
	cancelCh  chan struct{}
	done      chan struct{}
}

// DebateService drives contested claims through escalating resolution
// levels, each with a hard deadline. No path waits unboundedly: every
// suspension is a select on a timer.
type DebateService struct {
	challengeStore   domain.ChallengeStore
	claimStore       domain.ClaimStore
	resolutionStore  domain.ResolutionStore
	participantStore domain.ParticipantStore
	memory           *MemoryTierService
	credibility      *CredibilityService
	scheduler        *ReviewScheduler
	logger           *zap.Logger

	NegotiationWindow     time.Duration
	MediationWindow       time.Duration
	CredibilityGap        float64
	MandatoryReviewImpact float64
	MaterialityThreshold  float64

	mu      sync.Mutex
	drivers map[uuid.UUID]*challengeDriver
	wg      sync.WaitGroup

	// finishMu serializes terminal writes so a driver racing the bump
	// handler cannot both resolve the same challenge.
	finishMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewDebateService(
	challengeStore domain.ChallengeStore,
	claimStore domain.ClaimStore,
	resolutionStore domain.ResolutionStore,
	participantStore domain.ParticipantStore,
	memory *MemoryTierService,
	credibility *CredibilityService,
	scheduler *ReviewScheduler,
	logger *zap.Logger,
) *DebateService {
	s := &DebateService{
		challengeStore:        challengeStore,
		claimStore:            claimStore,
		resolutionStore:       resolutionStore,
		participantStore:      participantStore,
		memory:                memory,
		credibility:           credibility,
		scheduler:             scheduler,
		logger:                logger,
		NegotiationWindow:     DefaultNegotiationWindow,
		MediationWindow:       DefaultMediationWindow,
		CredibilityGap:        DefaultCredibilityGap,
		MandatoryReviewImpact: DefaultMandatoryReviewImpact,
		MaterialityThreshold:  DefaultMaterialityThreshold,
	}
	s.drivers = make(map[uuid.UUID]*challengeDriver)
	s.stopCh = make(chan struct{})
	scheduler.BumpHandler = s.handleBumpedItem
	return s
}

// Stop parks every live driver without resolving its challenge: the
// persisted state stays at the level it reached, and Resume restarts the
// drivers on the next boot. Shutdown is not a ruling.
func (s *DebateService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Resume restarts drivers for challenges that were live at the last
// shutdown. Each re-enters the level it was suspended in.
func (s *DebateService) Resume(ctx context.Context) error {
	open, err := s.challengeStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open challenges: %w", err)
	}

	for i := range open {
		ch := open[i]
		claim, err := s.claimStore.GetByID(ctx, ch.ClaimID, ch.TenantID)
		if err != nil {
			s.logger.Error("cannot resume challenge without its claim",
				zap.String("challenge_id", ch.ID.String()), zap.Error(err))
			continue
		}

		d := &challengeDriver{
			responses: make(chan positionMsg, 8),
			cancelCh:  make(chan struct{}),
			done:      make(chan struct{}),
		}
		s.mu.Lock()
		if _, live := s.drivers[ch.ID]; live {
			s.mu.Unlock()
			continue
		}
		s.drivers[ch.ID] = d
		s.mu.Unlock()

		s.wg.Add(1)
		go s.drive(&ch, claim, d)
		s.logger.Info("resumed challenge",
			zap.String("challenge_id", ch.ID.String()),
			zap.String("state", string(ch.State)))
	}
	return nil
}

type OpenChallengeInput struct {
	TenantID         uuid.UUID
	ClaimID          uuid.UUID
	ChallengerID     uuid.UUID
	Basis            string
	RequiredEvidence []string
	Priority         domain.ChallengePriority
	Impact           float64
}

// OpenChallenge validates the dispute, stabilizes the fact base (critical
// sync + snapshot for both parties), persists the challenge, and starts
// its driver. A claim that does not exist is a structural violation and a
// hard error; a partial sync is not.
func (s *DebateService) OpenChallenge(ctx context.Context, in OpenChallengeInput) (*domain.Challenge, error) {
	claim, err := s.claimStore.GetByID(ctx, in.ClaimID, in.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	if _, err := s.participantStore.GetByID(ctx, in.ChallengerID, in.TenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAParty
		}
		return nil, err
	}
	if !domain.ValidChallengePriority(string(in.Priority)) {
		in.Priority = domain.PriorityMedium
	}

	parties := []uuid.UUID{in.ChallengerID, claim.AuthorID}
	for _, pid := range parties {
		res := s.memory.Sync(ctx, pid, domain.SyncCritical)
		if res.Partial {
			// Proceed with caution: the debate runs on what arrived.
			s.logger.Warn("critical sync incomplete before debate",
				zap.String("participant_id", pid.String()),
				zap.String("claim_id", in.ClaimID.String()))
		}
	}

	snapshotID, err := s.memory.Snapshot(ctx, in.TenantID, parties, claim.Assertion)
	if err != nil {
		return nil, fmt.Errorf("capture debate snapshot: %w", err)
	}

	now := time.Now()
	ch := &domain.Challenge{
		TenantID:         in.TenantID,
		ClaimID:          in.ClaimID,
		ChallengerID:     in.ChallengerID,
		ChallengedID:     claim.AuthorID,
		Basis:            in.Basis,
		RequiredEvidence: in.RequiredEvidence,
		State:            domain.ChallengeOpen,
		Level:            domain.LevelAgentNegotiation,
		Priority:         in.Priority,
		Impact:           in.Impact,
		SnapshotID:       &snapshotID,
		DeadlineAt:       now.Add(s.totalBudget(in.Priority)),
		History:          []domain.Transition{},
	}
	if err := s.challengeStore.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	d := &challengeDriver{
		responses: make(chan positionMsg, 8),
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.drivers[ch.ID] = d
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drive(ch, claim, d)

	return ch, nil
}

// totalBudget is the worst-case wall time to a terminal resolution.
func (s *DebateService) totalBudget(p domain.ChallengePriority) time.Duration {
	return s.NegotiationWindow + s.MediationWindow + p.ArbitrationDeadline()
}

// Respond submits a party's position to the live driver.
func (s *DebateService) Respond(ctx context.Context, challengeID uuid.UUID, tenantID uuid.UUID, participantID uuid.UUID, position domain.ChallengePosition) error {
	ch, err := s.challengeStore.GetByID(ctx, challengeID, tenantID)
	if err != nil {
		return ErrChallengeNotFound
	}
	if ch.State.Terminal() {
		return ErrChallengeTerminal
	}
	if participantID != ch.ChallengerID && participantID != ch.ChallengedID {
		return ErrNotAParty
	}

	s.mu.Lock()
	d, ok := s.drivers[challengeID]
	s.mu.Unlock()
	if !ok {
		return ErrChallengeTerminal
	}

	select {
	case d.responses <- positionMsg{participantID: participantID, position: position}:
		return nil
	default:
		// Driver is mid-transition with a full buffer; the position is
		// moot by the time it would be read.
		return nil
	}
}

// Cancel withdraws the challenge at any pre-terminal state, releasing the
// snapshot immediately. History is preserved, never erased.
func (s *DebateService) Cancel(ctx context.Context, challengeID uuid.UUID, tenantID uuid.UUID) error {
	ch, err := s.challengeStore.GetByID(ctx, challengeID, tenantID)
	if err != nil {
		return ErrChallengeNotFound
	}
	if ch.State.Terminal() {
		return ErrChallengeTerminal
	}

	s.mu.Lock()
	d, ok := s.drivers[challengeID]
	s.mu.Unlock()
	if ok {
		select {
		case <-d.cancelCh:
		default:
			close(d.cancelCh)
		}
	}
	return nil
}

// Escalation stages in driver order. A fresh challenge starts at
// negotiation; a resumed one re-enters where its persisted state left off.
const (
	stageNegotiation = iota + 1
	stageMediation
	stageWeighing
	stageArbitration
)

func resumeStage(st domain.ChallengeState) int {
	switch st {
	case domain.ChallengeMediating:
		return stageMediation
	case domain.ChallengeWeighing:
		return stageWeighing
	case domain.ChallengeAwaitingHuman:
		return stageArbitration
	default:
		return stageNegotiation
	}
}

// drive is the single-writer state machine loop for one challenge.
func (s *DebateService) drive(ch *domain.Challenge, claim *domain.Claim, d *challengeDriver) {
	defer s.wg.Done()
	defer close(d.done)
	defer func() {
		s.mu.Lock()
		delete(s.drivers, ch.ID)
		s.mu.Unlock()
	}()

	ctx := context.Background()
	stage := resumeStage(ch.State)

	// Level 1: the parties negotiate directly.
	if stage <= stageNegotiation {
		ch.State = domain.ChallengeNegotiating
		if outcome, done := s.awaitPositions(ctx, ch, claim, d, domain.LevelAgentNegotiation, s.NegotiationWindow); done {
			s.finish(ctx, ch, outcome)
			return
		}
	}

	// Level 2: facilitated mediation; same exchange, fresh window.
	if stage <= stageMediation {
		ch.State = domain.ChallengeMediating
		if outcome, done := s.awaitPositions(ctx, ch, claim, d, domain.LevelFacilitatorMediation, s.MediationWindow); done {
			s.finish(ctx, ch, outcome)
			return
		}
	}

	// Level 3: credibility-weighted check.
	if stage <= stageWeighing {
		ch.State = domain.ChallengeWeighing
		if outcome, done := s.credibilityCheck(ctx, ch, claim); done {
			s.finish(ctx, ch, outcome)
			return
		}
	}

	// Level 4: human arbitration, bounded by the priority's deadline.
	ch.State = domain.ChallengeAwaitingHuman
	if outcome, done := s.humanArbitration(ctx, ch, claim, d); done {
		s.finish(ctx, ch, outcome)
		return
	}

	// Level 5: conservative default. Always terminal.
	outcome := s.conservativeDefault(ch, claim)
	s.enterLevel(ctx, ch, domain.LevelConservativeDefault)
	s.exitLevel(ctx, ch, string(outcome.Outcome))
	s.finish(ctx, ch, outcome)
}

type resolutionDraft struct {
	Outcome         domain.ResolutionOutcome
	WinnerID        *uuid.UUID
	ResolvedAtLevel string
	ResolvedBy      *uuid.UUID
	IsProvisional   bool
	Cancelled       bool
	// Parked: the process is shutting down; write nothing terminal.
	Parked bool
}

// awaitPositions runs one negotiation-style level: both parties may submit
// positions until the window closes, a concession arrives, or the
// challenge is cancelled.
func (s *DebateService) awaitPositions(ctx context.Context, ch *domain.Challenge, claim *domain.Claim, d *challengeDriver, level domain.EscalationLevel, window time.Duration) (resolutionDraft, bool) {
	s.enterLevel(ctx, ch, level)
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case msg := <-d.responses:
			switch {
			case msg.participantID == ch.ChallengedID && msg.position == domain.PositionConcede:
				s.exitLevel(ctx, ch, "challenged conceded")
				return resolutionDraft{
					Outcome:         domain.OutcomeClaimOverturned,
					WinnerID:        &ch.ChallengerID,
					ResolvedAtLevel: string(level),
					ResolvedBy:      &msg.participantID,
				}, true
			case msg.participantID == ch.ChallengedID && msg.position == domain.PositionRevise:
				s.exitLevel(ctx, ch, "challenged revised claim")
				return resolutionDraft{
					Outcome:         domain.OutcomeClaimRevised,
					WinnerID:        &ch.ChallengerID,
					ResolvedAtLevel: string(level),
					ResolvedBy:      &msg.participantID,
				}, true
			case msg.participantID == ch.ChallengerID && msg.position == domain.PositionConcede:
				s.exitLevel(ctx, ch, "challenger conceded")
				return resolutionDraft{
					Outcome:         domain.OutcomeClaimUpheld,
					WinnerID:        &ch.ChallengedID,
					ResolvedAtLevel: string(level),
					ResolvedBy:      &msg.participantID,
				}, true
			default:
				// A maintain position just keeps the clock running.
			}

		case <-timer.C:
			s.exitLevel(ctx, ch, "deadline expired, escalating")
			return resolutionDraft{}, false

		case <-d.cancelCh:
			s.exitLevel(ctx, ch, "cancelled")
			return resolutionDraft{Cancelled: true}, true

		case <-s.stopCh:
			return resolutionDraft{Parked: true}, true
		}
	}
}

// credibilityCheck auto-resolves when the score gap is decisive and both
// scores are tight enough to trust. High-impact challenges always go to a
// human instead.
func (s *DebateService) credibilityCheck(ctx context.Context, ch *domain.Challenge, claim *domain.Claim) (resolutionDraft, bool) {
	s.enterLevel(ctx, ch, domain.LevelCredibilityCheck)

	if ch.Impact >= s.MandatoryReviewImpact {
		s.exitLevel(ctx, ch, "impact requires mandatory human review")
		return resolutionDraft{}, false
	}

	challengerScore, errA := s.credibility.Score(ctx, ch.ChallengerID, claim.Context)
	challengedScore, errB := s.credibility.Score(ctx, ch.ChallengedID, claim.Context)
	if errA != nil || errB != nil {
		// Insufficient data never blocks; it escalates.
		s.exitLevel(ctx, ch, "insufficient credibility data")
		return resolutionDraft{}, false
	}
	if !challengerScore.Usable(MaxUsableIntervalWidth) || !challengedScore.Usable(MaxUsableIntervalWidth) {
		s.exitLevel(ctx, ch, "confidence interval too wide")
		return resolutionDraft{}, false
	}

	gap := challengerScore.Value - challengedScore.Value
	if math.Abs(gap) <= s.CredibilityGap {
		s.exitLevel(ctx, ch, "score gap inconclusive")
		return resolutionDraft{}, false
	}

	winner := ch.ChallengedID
	outcome := domain.OutcomeClaimUpheld
	if gap > 0 {
		winner = ch.ChallengerID
		outcome = domain.OutcomeClaimOverturned
	}
	s.exitLevel(ctx, ch, fmt.Sprintf("auto-resolved on credibility gap %.2f", math.Abs(gap)))

	return resolutionDraft{
		Outcome:         outcome,
		WinnerID:        &winner,
		ResolvedAtLevel: domain.ResolvedAtCredibilityAuto,
		IsProvisional:   true,
	}, true
}

// humanArbitration enqueues the challenge for review and waits, bounded
// by the priority's arbitration deadline. Reviewer unavailability and
// timeout both fall through to the conservative default.
func (s *DebateService) humanArbitration(ctx context.Context, ch *domain.Challenge, claim *domain.Claim, d *challengeDriver) (resolutionDraft, bool) {
	s.enterLevel(ctx, ch, domain.LevelHumanArbitration)
	deadline := ch.Priority.ArbitrationDeadline()

	item := &domain.ReviewItem{
		TenantID:    ch.TenantID,
		Kind:        domain.ReviewChallenge,
		RefID:       ch.ID,
		Priority:    ch.Priority,
		Impact:      ch.Impact,
		Uncertainty: 1 - claim.Confidence,
		Deadline:    time.Now().Add(deadline),
	}
	// The waiter is registered before the item becomes visible, so a
	// ruling can never land ahead of it.
	decisionCh, err := s.scheduler.EnqueueAwait(ctx, item)
	if err != nil {
		// No reviewers at all: conservative default, never a stall.
		s.exitLevel(ctx, ch, "no reviewer available")
		return resolutionDraft{}, false
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case decision := <-decisionCh:
		draft := s.applyHumanDecision(ch, decision)
		s.exitLevel(ctx, ch, string(decision.Verdict))
		return draft, true

	case <-timer.C:
		s.exitLevel(ctx, ch, "arbitration deadline expired")
		return resolutionDraft{}, false

	case <-d.cancelCh:
		s.exitLevel(ctx, ch, "cancelled")
		return resolutionDraft{Cancelled: true}, true

	case <-s.stopCh:
		return resolutionDraft{Parked: true}, true
	}
}

func (s *DebateService) applyHumanDecision(ch *domain.Challenge, decision domain.ReviewDecision) resolutionDraft {
	draft := resolutionDraft{
		ResolvedAtLevel: string(domain.LevelHumanArbitration),
		ResolvedBy:      &decision.ReviewerID,
	}
	switch decision.Verdict {
	case domain.VerdictApprove:
		// The challenge is approved: the claim falls.
		draft.Outcome = domain.OutcomeClaimOverturned
		draft.WinnerID = &ch.ChallengerID
	case domain.VerdictReject:
		draft.Outcome = domain.OutcomeClaimUpheld
		draft.WinnerID = &ch.ChallengedID
	case domain.VerdictModify:
		draft.Outcome = domain.OutcomeClaimRevised
		draft.WinnerID = decision.WinnerID
	default: // request_more_evidence resolves nothing; uphold provisionally
		draft.Outcome = domain.OutcomeClaimUpheld
		draft.WinnerID = &ch.ChallengedID
		draft.IsProvisional = true
	}
	if decision.WinnerID != nil {
		draft.WinnerID = decision.WinnerID
	}
	return draft
}

// conservativeDefault picks the position with the lower downside risk —
// not the higher-credibility one — and marks it provisional. Deterministic
// given identical inputs: calling it twice yields the same outcome.
func (s *DebateService) conservativeDefault(ch *domain.Challenge, claim *domain.Claim) resolutionDraft {
	keepRisk := ch.Impact * (1 - claim.Confidence)
	dropRisk := ch.Impact * claim.Confidence

	draft := resolutionDraft{
		ResolvedAtLevel: string(domain.LevelConservativeDefault),
		IsProvisional:   true,
	}
	if dropRisk < keepRisk {
		draft.Outcome = domain.OutcomeClaimOverturned
		draft.WinnerID = &ch.ChallengerID
	} else {
		// Ties keep the status quo.
		draft.Outcome = domain.OutcomeClaimUpheld
		draft.WinnerID = &ch.ChallengedID
	}
	return draft
}

// finish writes the terminal state, the resolution row, and the follow-up
// review item for provisional outcomes, then releases the snapshot.
func (s *DebateService) finish(ctx context.Context, ch *domain.Challenge, draft resolutionDraft) {
	if draft.Parked {
		return
	}

	// A bump handler may have already resolved this challenge while the
	// driver was blocked; the first terminal write wins. The mutex keeps
	// the check-then-write atomic.
	s.finishMu.Lock()
	defer s.finishMu.Unlock()
	if current, err := s.challengeStore.GetByID(ctx, ch.ID, ch.TenantID); err == nil && current.State.Terminal() {
		return
	}

	if draft.Cancelled {
		ch.State = domain.ChallengeCancelled
		if err := s.challengeStore.Update(ctx, ch); err != nil {
			s.logger.Error("failed to persist cancellation", zap.String("challenge_id", ch.ID.String()), zap.Error(err))
		}
		res := &domain.Resolution{
			ChallengeID:     ch.ID,
			Outcome:         domain.OutcomeWithdrawn,
			ResolvedAtLevel: string(ch.Level),
		}
		if err := s.resolutionStore.Create(ctx, res); err != nil {
			s.logger.Error("failed to record withdrawal", zap.String("challenge_id", ch.ID.String()), zap.Error(err))
		}
		s.releaseSnapshot(ctx, ch)
		return
	}

	ch.State = domain.ChallengeResolved
	if err := s.challengeStore.Update(ctx, ch); err != nil {
		s.logger.Error("failed to persist resolution state", zap.String("challenge_id", ch.ID.String()), zap.Error(err))
	}

	res := &domain.Resolution{
		ChallengeID:     ch.ID,
		Outcome:         draft.Outcome,
		WinnerID:        draft.WinnerID,
		ResolvedAtLevel: draft.ResolvedAtLevel,
		ResolvedBy:      draft.ResolvedBy,
		IsProvisional:   draft.IsProvisional,
	}
	if err := s.resolutionStore.Create(ctx, res); err != nil {
		s.logger.Error("failed to record resolution", zap.String("challenge_id", ch.ID.String()), zap.Error(err))
	}

	// Every automatic call on a human's behalf surfaces in a review queue.
	if draft.IsProvisional {
		item := &domain.ReviewItem{
			TenantID: ch.TenantID,
			Kind:     domain.ReviewProvisional,
			RefID:    ch.ID,
			Priority: ch.Priority,
			Impact:   ch.Impact,
			Deadline: time.Now().Add(ch.Priority.ArbitrationDeadline()),
		}
		if _, err := s.scheduler.Enqueue(ctx, item); err != nil {
			s.logger.Warn("provisional resolution not queued for review",
				zap.String("challenge_id", ch.ID.String()), zap.Error(err))
		}
	}

	s.releaseSnapshot(ctx, ch)
	s.logger.Info("challenge resolved",
		zap.String("challenge_id", ch.ID.String()),
		zap.String("outcome", string(draft.Outcome)),
		zap.String("resolved_at_level", draft.ResolvedAtLevel),
		zap.Bool("provisional", draft.IsProvisional))
}

func (s *DebateService) releaseSnapshot(ctx context.Context, ch *domain.Challenge) {
	if ch.SnapshotID == nil {
		return
	}
	if err := s.memory.Release(ctx, *ch.SnapshotID); err != nil {
		s.logger.Warn("failed to release snapshot", zap.String("snapshot_id", ch.SnapshotID.String()), zap.Error(err))
	}
}

// Override supersedes a provisional resolution with a human ruling. The
// original row keeps its content and gains only the supersession link.
// Material deltas trigger downstream recomputation.
func (s *DebateService) Override(ctx context.Context, challengeID uuid.UUID, tenantID uuid.UUID, decision domain.ReviewDecision) (*domain.Resolution, error) {
	ch, err := s.challengeStore.GetByID(ctx, challengeID, tenantID)
	if err != nil {
		return nil, ErrChallengeNotFound
	}
	prior, err := s.resolutionStore.GetByChallengeID(ctx, challengeID)
	if err != nil {
		return nil, ErrResolutionNotFound
	}
	if !prior.IsProvisional {
		return nil, ErrResolutionNotPending
	}

	draft := s.applyHumanDecision(ch, decision)
	replacement := &domain.Resolution{
		ChallengeID:     challengeID,
		Outcome:         draft.Outcome,
		WinnerID:        draft.WinnerID,
		ResolvedAtLevel: string(domain.LevelHumanArbitration),
		ResolvedBy:      &decision.ReviewerID,
	}
	if err := s.resolutionStore.Create(ctx, replacement); err != nil {
		return nil, fmt.Errorf("create override resolution: %w", err)
	}
	if err := s.resolutionStore.MarkSuperseded(ctx, prior.ID, replacement.ID); err != nil {
		return nil, fmt.Errorf("link superseded resolution: %w", err)
	}

	// Override tracking feeds back into credibility, scoped to the claim's
	// context. The overridden party is whoever the provisional call
	// favored.
	claim, err := s.claimStore.GetByID(ctx, ch.ClaimID, tenantID)
	if err == nil && prior.WinnerID != nil {
		overridden := draft.WinnerID == nil || *draft.WinnerID != *prior.WinnerID
		if err := s.credibility.RecordOverride(ctx, *prior.WinnerID, claim.Context, overridden); err != nil {
			s.logger.Warn("failed to record override", zap.Error(err))
		}

		if overridden {
			delta := outcomeDelta(prior.Outcome, draft.Outcome, claim.Confidence)
			if delta > s.MaterialityThreshold {
				task := &domain.RecomputeTask{
					ChallengeID: challengeID,
					Reason:      fmt.Sprintf("override changed outcome from %s to %s", prior.Outcome, draft.Outcome),
					Delta:       delta,
				}
				if err := s.resolutionStore.CreateRecomputeTask(ctx, task); err != nil {
					s.logger.Warn("failed to queue recompute task", zap.Error(err))
				}
			}
		}
	}

	return replacement, nil
}

// outcomeDelta estimates how far the overriding outcome moved from the
// provisional one, in claim-confidence terms.
func outcomeDelta(prior, replacement domain.ResolutionOutcome, confidence float64) float64 {
	if prior == replacement {
		return 0
	}
	// Flipping between upheld and overturned swings the full confidence
	// weight; a revision is half a swing.
	if (prior == domain.OutcomeClaimUpheld && replacement == domain.OutcomeClaimOverturned) ||
		(prior == domain.OutcomeClaimOverturned && replacement == domain.OutcomeClaimUpheld) {
		return confidence
	}
	return confidence / 2
}

// handleBumpedItem resolves a challenge whose review slot was taken by a
// critical arrival. Bumped means conservative default, never dropped;
// other review kinds go back to the deferred pool and drain once capacity
// frees.
func (s *DebateService) handleBumpedItem(item domain.ReviewItem) {
	ctx := context.Background()
	if item.Kind != domain.ReviewChallenge {
		if err := s.scheduler.Requeue(ctx, item); err != nil {
			s.logger.Error("failed to requeue bumped review item",
				zap.String("item_id", item.ID.String()),
				zap.String("kind", string(item.Kind)),
				zap.Error(err))
		}
		return
	}
	ch, err := s.challengeStore.GetByID(ctx, item.RefID, item.TenantID)
	if err != nil || ch.State.Terminal() {
		return
	}
	claim, err := s.claimStore.GetByID(ctx, ch.ClaimID, ch.TenantID)
	if err != nil {
		return
	}

	draft := s.conservativeDefault(ch, claim)
	s.enterLevel(ctx, ch, domain.LevelConservativeDefault)
	s.exitLevel(ctx, ch, "bumped from review queue")
	s.finish(ctx, ch, draft)

	// The driver, if still waiting on arbitration, is now moot.
	s.mu.Lock()
	if d, ok := s.drivers[ch.ID]; ok {
		select {
		case <-d.cancelCh:
		default:
			close(d.cancelCh)
		}
	}
	s.mu.Unlock()
}

// GetResolution returns the current (non-superseded) resolution.
func (s *DebateService) GetResolution(ctx context.Context, challengeID uuid.UUID) (*domain.Resolution, error) {
	res, err := s.resolutionStore.GetByChallengeID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrResolutionNotFound
		}
		return nil, err
	}
	return res, nil
}

func (s *DebateService) enterLevel(ctx context.Context, ch *domain.Challenge, level domain.EscalationLevel) {
	ch.Level = level
	ch.History = append(ch.History, domain.Transition{Level: level, EnteredAt: time.Now()})
	if err := s.challengeStore.Update(ctx, ch); err != nil {
		s.logger.Error("failed to persist level entry",
			zap.String("challenge_id", ch.ID.String()),
			zap.String("level", string(level)),
			zap.Error(err))
	}
}

func (s *DebateService) exitLevel(ctx context.Context, ch *domain.Challenge, outcome string) {
	if len(ch.History) == 0 {
		return
	}
	now := time.Now()
	last := &ch.History[len(ch.History)-1]
	last.ExitedAt = &now
	last.Outcome = outcome
	if err := s.challengeStore.Update(ctx, ch); err != nil {
		s.logger.Error("failed to persist level exit",
			zap.String("challenge_id", ch.ID.String()),
			zap.Error(err))
	}
}
