package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
	"git.home.luguber.info/inful/stratus/internal/logfields"
	"git.home.luguber.info/inful/stratus/internal/memory"
	"git.home.luguber.info/inful/stratus/internal/worktree"
)

// MemoryRecorder is the seam into the memory store for spec lifecycle
// events. Writes through it are best-effort.
type MemoryRecorder interface {
	SaveEvent(ctx context.Context, event memory.Event) (int64, error)
}

// Coordinator owns every SpecState mutation. Transitions for a single slug
// are serialized behind a per-slug lock; different slugs proceed
// independently. Worktree side effects always run before the state write, so
// a failed git operation leaves the phase unchanged.
type Coordinator struct {
	store         *Store
	trees         *worktree.Manager
	memory        MemoryRecorder
	logger        *slog.Logger
	maxIterations int
	staleBusy     time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	verdicts map[string][]ReviewVerdict
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxIterations bounds the review fix loop.
func WithMaxIterations(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithStaleBusyHorizon sets how old a busy state may be before a
// session-exit probe stops honoring it.
func WithStaleBusyHorizon(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleBusy = d
		}
	}
}

// WithMemory attaches the memory store for lifecycle events.
func WithMemory(recorder MemoryRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.memory = recorder }
}

// NewCoordinator builds a Coordinator over the given state store and
// worktree manager.
func NewCoordinator(store *Store, trees *worktree.Manager, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:         store,
		trees:         trees,
		logger:        logger,
		maxIterations: 3,
		staleBusy:     4 * time.Hour,
		locks:         map[string]*sync.Mutex{},
		verdicts:      map[string][]ReviewVerdict{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) slugLock(slug string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[slug]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[slug] = lock
	}
	return lock
}

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Start creates a new spec in the planning phase. The plan fingerprint pins
// the worktree location for the whole run. Starting a slug that already has
// an active (non-terminal) state is a conflict; terminal states are
// replaced.
func (c *Coordinator) Start(ctx context.Context, slug, planPath string) (SpecState, error) {
	if !slugRe.MatchString(slug) {
		return SpecState{}, derrors.Validation("slug must be kebab-case").WithContext("slug", slug)
	}
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := c.store.Read(slug); err == nil {
		if existing.Phase != PhaseDone && existing.Phase != PhaseAborted {
			return existing, derrors.State("spec already in flight").
				WithContext("slug", slug).
				WithContext("phase", string(existing.Phase))
		}
	}

	full := worktree.FullFingerprint(slug, planPath)
	state := SpecState{
		Slug:            slug,
		Phase:           PhasePlanning,
		PlanFingerprint: full,
		WorktreeSHA8:    full[:8],
		StartedAt:       nowISO(),
	}
	if err := c.store.Write(state); err != nil {
		return SpecState{}, err
	}
	c.mu.Lock()
	delete(c.verdicts, slug)
	c.mu.Unlock()

	c.record(ctx, memory.EventSpecStarted, "spec started: "+slug, 0.5, map[string]string{"slug": slug})
	c.logger.Info("spec started", logfields.Slug(slug), logfields.Phase(string(PhasePlanning)))
	return state, nil
}

// ApprovePlan moves a planned spec into implementation and creates its
// worktree. total tasks must be positive.
func (c *Coordinator) ApprovePlan(ctx context.Context, slug string, totalTasks int) (SpecState, error) {
	if totalTasks <= 0 {
		return SpecState{}, derrors.Validation("total_tasks must be positive").WithContext("slug", slug)
	}
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhasePlanning {
		return state, c.phaseError(state, "approve_plan", PhasePlanning)
	}

	if _, err := c.trees.Create(ctx, slug, state.WorktreeSHA8); err != nil {
		return state, err
	}

	state, err = Transition(state, PhaseImplementing)
	if err != nil {
		return state, err
	}
	state.TotalTasks = totalTasks
	if err := c.store.Write(state); err != nil {
		return state, err
	}
	c.logger.Info("plan approved", logfields.Slug(slug), slog.Int("total_tasks", totalTasks))
	return state, nil
}

// StartTask marks task n as in progress.
func (c *Coordinator) StartTask(ctx context.Context, slug string, n int) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhaseImplementing {
		return state, c.phaseError(state, "start_task", PhaseImplementing)
	}
	if n < 1 || n > state.TotalTasks {
		return state, derrors.Validationf("task %d out of range 1..%d", n, state.TotalTasks).
			WithContext("slug", slug)
	}
	state.CurrentTask = n
	if err := c.store.Write(state); err != nil {
		return state, err
	}
	return state, nil
}

// CompleteTask records task n as done. Progress is monotonic: completing an
// already-counted task does not move the counter backward or forward past
// the total.
func (c *Coordinator) CompleteTask(ctx context.Context, slug string, n int) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhaseImplementing {
		return state, c.phaseError(state, "complete_task", PhaseImplementing)
	}
	if n < 1 || n > state.TotalTasks {
		return state, derrors.Validationf("task %d out of range 1..%d", n, state.TotalTasks).
			WithContext("slug", slug)
	}
	if n > state.CompletedTasks {
		state.CompletedTasks = n
	}
	if err := c.store.Write(state); err != nil {
		return state, err
	}
	return state, nil
}

// StartVerify moves into verification once every task is complete and opens
// a fresh verdict set for the iteration.
func (c *Coordinator) StartVerify(ctx context.Context, slug string) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhaseImplementing {
		return state, c.phaseError(state, "start_verify", PhaseImplementing)
	}
	if state.CompletedTasks < state.TotalTasks {
		return state, derrors.Statef("cannot verify: %d of %d tasks complete",
			state.CompletedTasks, state.TotalTasks).WithContext("slug", slug)
	}
	state, err = Transition(state, PhaseVerifying)
	if err != nil {
		return state, err
	}
	if err := c.store.Write(state); err != nil {
		return state, err
	}
	c.mu.Lock()
	c.verdicts[slug] = nil
	c.mu.Unlock()
	c.logger.Info("verification started", logfields.Slug(slug),
		slog.Int("iteration", state.ReviewIteration))
	return state, nil
}

// SubmitVerdict appends one reviewer's verdict to the current iteration.
// The coordinator does not quorum-detect; the caller invokes ResolveVerify
// once every expected reviewer has reported.
func (c *Coordinator) SubmitVerdict(ctx context.Context, slug string, verdict ReviewVerdict) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhaseVerifying {
		return state, c.phaseError(state, "submit_verdict", PhaseVerifying)
	}
	verdict.Iteration = state.ReviewIteration
	c.mu.Lock()
	c.verdicts[slug] = append(c.verdicts[slug], verdict)
	c.mu.Unlock()
	return state, nil
}

// VerifyOutcome is the result of resolving one verification iteration.
type VerifyOutcome struct {
	State           SpecState       `json:"state"`
	Result          AggregateResult `json:"result"`
	FixInstructions string          `json:"fix_instructions,omitempty"`
}

// ResolveVerify closes the current verdict set. All reviewers passing moves
// the spec into learning (syncing the worktree); a failure re-enters
// implementation through the fix loop while the iteration budget lasts, and
// aborts with reason "unfixed" once it is spent.
func (c *Coordinator) ResolveVerify(ctx context.Context, slug string) (VerifyOutcome, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return VerifyOutcome{}, err
	}
	if state.Phase != PhaseVerifying {
		return VerifyOutcome{State: state}, c.phaseError(state, "resolve_verify", PhaseVerifying)
	}

	c.mu.Lock()
	verdicts := c.verdicts[slug]
	c.mu.Unlock()
	if len(verdicts) == 0 {
		return VerifyOutcome{State: state}, derrors.Validation("no verdicts submitted").
			WithContext("slug", slug)
	}

	outcome := VerifyOutcome{Result: Aggregate(verdicts)}
	switch {
	case outcome.Result.AllPassed:
		state, err = c.startLearnLocked(ctx, state)

	case state.ReviewIteration < c.maxIterations:
		state, err = Transition(state, PhaseFixing)
		if err != nil {
			break
		}
		state, err = Transition(state, PhaseImplementing)
		if err != nil {
			break
		}
		state.ReviewIteration++
		outcome.FixInstructions = BuildFixInstructions(verdicts)
		err = c.store.Write(state)
		if err == nil {
			c.logger.Info("entering fix loop", logfields.Slug(slug),
				slog.Int("iteration", state.ReviewIteration),
				slog.Int("must_fix", outcome.Result.MustFixCount))
		}

	default:
		state, err = c.abortLocked(ctx, state, "unfixed")
	}
	if err != nil {
		outcome.State = state
		return outcome, err
	}

	c.mu.Lock()
	delete(c.verdicts, slug)
	c.mu.Unlock()
	outcome.State = state
	return outcome, nil
}

// StartLearn moves a fully verified spec into the learning phase, squashing
// the worktree's changes onto the base branch.
func (c *Coordinator) StartLearn(ctx context.Context, slug string) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhaseVerifying {
		return state, c.phaseError(state, "start_learn", PhaseVerifying)
	}
	return c.startLearnLocked(ctx, state)
}

func (c *Coordinator) startLearnLocked(ctx context.Context, state SpecState) (SpecState, error) {
	if _, err := c.trees.Sync(ctx, state.Slug); err != nil {
		return state, err
	}
	state, err := Transition(state, PhaseLearning)
	if err != nil {
		return state, err
	}
	if err := c.store.Write(state); err != nil {
		return state, err
	}
	c.logger.Info("learning started", logfields.Slug(state.Slug))
	return state, nil
}

// Complete finishes a spec: the worktree is removed, the state moves to
// done, and a summary event lands in memory.
func (c *Coordinator) Complete(ctx context.Context, slug string) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	if state.Phase != PhaseLearning {
		return state, c.phaseError(state, "complete", PhaseLearning)
	}

	if _, err := c.trees.Cleanup(ctx, slug, state.WorktreeSHA8); err != nil {
		return state, err
	}
	state, err = Transition(state, PhaseDone)
	if err != nil {
		return state, err
	}
	if err := c.store.Write(state); err != nil {
		return state, err
	}

	summary := fmt.Sprintf("spec %s completed: %d tasks, %d review iterations",
		slug, state.TotalTasks, state.ReviewIteration)
	c.record(ctx, memory.EventSpecCompleted, summary, 0.6, map[string]string{"slug": slug})
	c.logger.Info("spec completed", logfields.Slug(slug),
		slog.Int("tasks", state.TotalTasks),
		slog.Int("review_iterations", state.ReviewIteration))
	return state, nil
}

// Abort moves a spec to aborted from any phase. The worktree is left in
// place for operator inspection.
func (c *Coordinator) Abort(ctx context.Context, slug, reason string) (SpecState, error) {
	lock := c.slugLock(slug)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.Read(slug)
	if err != nil {
		return SpecState{}, err
	}
	return c.abortLocked(ctx, state, reason)
}

func (c *Coordinator) abortLocked(ctx context.Context, state SpecState, reason string) (SpecState, error) {
	state, err := Transition(state, PhaseAborted)
	if err != nil {
		return state, err
	}
	if reason == "" {
		reason = "unspecified"
	}
	state.AbortReason = reason
	if err := c.store.Write(state); err != nil {
		return state, err
	}
	c.mu.Lock()
	delete(c.verdicts, state.Slug)
	c.mu.Unlock()
	c.logger.Warn("spec aborted", logfields.Slug(state.Slug), slog.String("reason", reason))
	return state, nil
}

// State returns the persisted state for slug.
func (c *Coordinator) State(slug string) (SpecState, error) {
	return c.store.Read(slug)
}

// ActiveStates returns every persisted spec state.
func (c *Coordinator) ActiveStates() ([]SpecState, error) {
	slugs, err := c.store.List()
	if err != nil {
		return nil, err
	}
	states := make([]SpecState, 0, len(slugs))
	for _, slug := range slugs {
		state, err := c.store.Read(slug)
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// BusyInfo is the stop-guard answer for a session-exit probe.
type BusyInfo struct {
	Busy  bool     `json:"busy"`
	Slugs []string `json:"slugs,omitempty"`
}

// IsBusy reports whether any spec is mid-execution. A busy phase whose
// updated_at is older than the staleness horizon no longer counts, so a
// crashed run cannot block session exits forever.
func (c *Coordinator) IsBusy() BusyInfo {
	info := BusyInfo{}
	states, err := c.ActiveStates()
	if err != nil {
		return info
	}
	horizon := time.Now().UTC().Add(-c.staleBusy)
	for _, state := range states {
		if !busyPhases[state.Phase] {
			continue
		}
		updated, err := time.Parse(time.RFC3339Nano, state.UpdatedAt)
		if err != nil || updated.Before(horizon) {
			continue
		}
		info.Busy = true
		info.Slugs = append(info.Slugs, state.Slug)
	}
	return info
}

func (c *Coordinator) phaseError(state SpecState, op string, want Phase) error {
	return derrors.Statef("%s requires phase %s, current phase is %s", op, want, state.Phase).
		WithContext("slug", state.Slug)
}

// record writes a best-effort lifecycle event to memory.
func (c *Coordinator) record(ctx context.Context, eventType memory.EventType, text string, importance float64, refs map[string]string) {
	if c.memory == nil {
		return
	}
	event := memory.NewEvent(eventType, text)
	event.Actor = memory.ActorSystem
	event.Importance = importance
	event.Refs = refs
	if _, err := c.memory.SaveEvent(ctx, event); err != nil {
		c.logger.Warn("memory event write failed", logfields.Error(err))
	}
}
