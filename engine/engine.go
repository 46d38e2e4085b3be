// ABOUTME: The execution engine: runs the pipeline graph for one task in blocking or streaming mode.
// ABOUTME: Owns cancellation, the wall-clock bound, snapshot persistence with retry, and event fan-out.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389-research/wordmill/metrics"
	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/provider"
	"github.com/2389-research/wordmill/router"
	"github.com/2389-research/wordmill/store"
)

// DefaultWallClockTimeout bounds one task's total execution, independent of
// any single provider call's timeout.
const DefaultWallClockTimeout = 15 * time.Minute

// Engine orchestrates task execution over the pipeline graph. Each task runs
// as its own goroutine owning its PipelineState exclusively; the store is the
// only shared mutable resource.
type Engine struct {
	store   store.Store
	nodes   *pipeline.Nodes
	library *router.PresetLibrary
	catalog *provider.Catalog
	costs   *metrics.Aggregator

	owner         string
	wallClock     time.Duration
	budgetCeiling float64
	persistTries  int
	persistDelay  time.Duration

	mu      sync.Mutex
	brokers map[string]*broker
	cancels map[string]context.CancelFunc
	// pendingCancels holds cancel requests that arrived for a claimed task
	// before its goroutine registered a cancel func; run consults it under
	// mu before taking over as the record's writer.
	pendingCancels map[string]struct{}

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithOwner sets the claim owner identity; defaults to a random id per
// process so restarted processes can detect stale claims.
func WithOwner(owner string) Option {
	return func(e *Engine) { e.owner = owner }
}

// WithWallClockTimeout bounds a task's total execution time.
func WithWallClockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.wallClock = d }
}

// WithBudgetCeiling sets a default monthly budget ceiling used for the
// creation-time warning when a request carries none of its own.
func WithBudgetCeiling(usd float64) Option {
	return func(e *Engine) { e.budgetCeiling = usd }
}

// WithCostLedger attaches the aggregator used for budget projections.
func WithCostLedger(a *metrics.Aggregator) Option {
	return func(e *Engine) { e.costs = a }
}

// WithPersistRetry overrides the snapshot-write retry policy.
func WithPersistRetry(tries int, delay time.Duration) Option {
	return func(e *Engine) {
		e.persistTries = tries
		e.persistDelay = delay
	}
}

// New builds an engine over its collaborators.
func New(st store.Store, nodes *pipeline.Nodes, library *router.PresetLibrary, catalog *provider.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		nodes:          nodes,
		library:        library,
		catalog:        catalog,
		owner:          uuid.NewString(),
		wallClock:      DefaultWallClockTimeout,
		persistTries:   3,
		persistDelay:   100 * time.Millisecond,
		brokers:        make(map[string]*broker),
		cancels:        make(map[string]context.CancelFunc),
		pendingCancels: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until every in-flight task goroutine has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// CreateTask validates the request, resolves its provider selection,
// estimates cost, and persists the pending record. No phase runs yet.
func (e *Engine) CreateTask(ctx context.Context, req pipeline.Request) (*store.TaskRecord, *router.Estimate, error) {
	if err := pipeline.Validate(req); err != nil {
		return nil, nil, err
	}
	req.Constraints = req.Constraints.Normalize()

	sel, err := e.library.Resolve(req.Preset, req.Constraints.ProviderOverrides)
	if err != nil {
		return nil, nil, &pipeline.ValidationError{Field: "preset", Message: err.Error()}
	}
	est, err := router.EstimateTask(e.catalog, sel, req.Constraints.TargetWords, req.Constraints.MaxRefinements())
	if err != nil {
		return nil, nil, &pipeline.ValidationError{Field: "provider_overrides", Message: err.Error()}
	}

	id := uuid.NewString()
	rec := &store.TaskRecord{
		ID:            id,
		Status:        store.StatusPending,
		State:         pipeline.NewState(id, req, map[pipeline.Phase][]string(sel), time.Now().UTC()),
		BudgetWarning: e.budgetWarning(ctx, est.TotalUSD, req.Constraints.BudgetUSD),
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, nil, err
	}
	// Broker exists from creation so consumers can attach before any phase.
	e.brokerFor(id)
	log.Printf("component=engine action=create task=%s topic=%q budget_warning=%v",
		id, rec.State.Topic, rec.BudgetWarning)
	return rec, est, nil
}

// budgetWarning implements the warn-only budget policy: creation proceeds
// regardless, the caller just sees the flag.
func (e *Engine) budgetWarning(ctx context.Context, estimated, taskCeiling float64) bool {
	ceiling := taskCeiling
	if ceiling <= 0 {
		ceiling = e.budgetCeiling
	}
	if ceiling <= 0 {
		return false
	}
	if e.costs != nil {
		over, err := e.costs.WouldExceedBudget(ctx, estimated, ceiling, time.Now().UTC())
		if err == nil {
			return over
		}
		log.Printf("component=engine action=budget_check error=%v", err)
	}
	return estimated > ceiling
}

// Execute runs a task to its terminal state and returns the final record.
// The returned record is identical in status and result to the stream's
// terminal event.
func (e *Engine) Execute(ctx context.Context, req pipeline.Request) (*store.TaskRecord, error) {
	rec, _, err := e.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.claim(ctx, rec); err != nil {
		return nil, err
	}
	return e.run(ctx, rec), nil
}

// Submit starts a task in the background and returns its pending record
// immediately. Execution is detached from the caller's context; cancellation
// goes through Cancel.
func (e *Engine) Submit(ctx context.Context, req pipeline.Request) (*store.TaskRecord, error) {
	rec, _, err := e.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.claim(ctx, rec); err != nil {
		return nil, err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(context.Background(), rec)
	}()
	return rec, nil
}

func (e *Engine) claim(ctx context.Context, rec *store.TaskRecord) error {
	ok, err := e.store.Claim(ctx, rec.ID, e.owner)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s is already claimed", rec.ID)
	}
	rec.ClaimedBy = e.owner
	return nil
}

// Get returns the current record for a task.
func (e *Engine) Get(ctx context.Context, id string) (*store.TaskRecord, error) {
	return e.store.Get(ctx, id)
}

// Presets lists the names of the registered provider presets.
func (e *Engine) Presets() []string { return e.library.Names() }

// List returns task records, optionally filtered to non-terminal ones.
func (e *Engine) List(ctx context.Context, onlyActive bool) ([]*store.TaskRecord, error) {
	return e.store.List(ctx, onlyActive)
}

// Estimate prices a request without creating a task. Validation and preset
// resolution follow the same path as CreateTask.
func (e *Engine) Estimate(req pipeline.Request) (*router.Estimate, error) {
	if err := pipeline.Validate(req); err != nil {
		return nil, err
	}
	c := req.Constraints.Normalize()
	sel, err := e.library.Resolve(req.Preset, c.ProviderOverrides)
	if err != nil {
		return nil, &pipeline.ValidationError{Field: "preset", Message: err.Error()}
	}
	est, err := router.EstimateTask(e.catalog, sel, c.TargetWords, c.MaxRefinements())
	if err != nil {
		return nil, &pipeline.ValidationError{Field: "provider_overrides", Message: err.Error()}
	}
	return est, nil
}

func (e *Engine) dropPendingCancel(id string) {
	e.mu.Lock()
	delete(e.pendingCancels, id)
	e.mu.Unlock()
}

// Cancel requests cooperative cancellation. A task running in this process
// is aborted at its next phase boundary; a non-running, non-terminal task is
// marked cancelled directly.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	cancel, running := e.cancels[id]
	if !running {
		// The task may be claimed but its goroutine not yet started; the
		// intent is recorded under the same lock run registers under, so
		// the request cannot fall between the two.
		e.pendingCancels[id] = struct{}{}
	}
	e.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		e.dropPendingCancel(id)
		return err
	}
	if rec.Status.Terminal() {
		e.dropPendingCancel(id)
		return fmt.Errorf("task %s is already %s", id, rec.Status)
	}
	rec.Status = store.StatusCancelled
	if err := e.store.Update(ctx, rec); err != nil {
		return err
	}
	e.publishTerminal(rec)
	return nil
}

// Subscribe attaches a consumer to a task's event stream: full replay of
// events so far, then live tail until the terminal event closes the channel.
func (e *Engine) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	e.mu.Lock()
	b, ok := e.brokers[id]
	e.mu.Unlock()
	if !ok {
		// Task unknown to this process (restart): synthesize what the store
		// knows. A terminal record yields its terminal event and a closed
		// channel; a live one gets a broker the resumed run will feed.
		rec, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		b = e.brokerFor(id)
		if rec.Status.Terminal() && len(b.events()) == 0 {
			b.publish(e.terminalEvent(rec))
		}
	}
	ch, cancel := b.subscribe()
	return ch, cancel, nil
}

func (e *Engine) brokerFor(id string) *broker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.brokers[id]
	if !ok {
		b = newBroker()
		e.brokers[id] = b
	}
	return b
}

// run drives one task's graph to a terminal state. It is the single writer
// for the task's record for the duration.
func (e *Engine) run(ctx context.Context, rec *store.TaskRecord) *store.TaskRecord {
	var runCtx context.Context
	var cancel context.CancelFunc
	if e.wallClock > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.wallClock)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	e.mu.Lock()
	if _, stop := e.pendingCancels[rec.ID]; stop {
		// Cancelled before this goroutine started; Cancel already wrote the
		// terminal record and published its event. Do not take over as the
		// writer.
		delete(e.pendingCancels, rec.ID)
		e.mu.Unlock()
		cancel()
		rec.Status = store.StatusCancelled
		rec.Error = ""
		return rec
	}
	e.cancels[rec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, rec.ID)
		delete(e.pendingCancels, rec.ID)
		e.mu.Unlock()
	}()

	// A cancel that raced task startup may already have written the terminal
	// record; honor it rather than taking over as the writer.
	if stored, err := e.store.Get(ctx, rec.ID); err == nil && stored.Status.Terminal() {
		return stored
	}

	rec.Status = store.StatusRunning
	if err := e.persist(rec); err != nil {
		return e.fail(rec, err)
	}

	for {
		// Cooperative cancellation check at every phase boundary.
		if err := runCtx.Err(); err != nil {
			return e.interrupted(rec, err)
		}
		phase, ok := pipeline.NextPhase(rec.State)
		if !ok {
			break
		}

		next, err := e.nodes.Run(runCtx, phase, rec.State)
		if err != nil {
			if runCtx.Err() != nil {
				return e.interrupted(rec, runCtx.Err())
			}
			return e.fail(rec, err)
		}
		rec.State = next
		rec.State.UpdatedAt = time.Now().UTC()

		rec.Status = store.StatusRunning
		if phase == pipeline.PhaseAssess && pipeline.ShouldRefine(rec.State) {
			rec.Status = store.StatusAwaitingRefinement
		}

		if err := e.persist(rec); err != nil {
			return e.fail(rec, err)
		}
		e.publishPhase(rec, phase)
	}

	rec.Status = store.StatusCompleted
	rec.Error = ""
	if err := e.persist(rec); err != nil {
		return e.fail(rec, err)
	}
	e.publishTerminal(rec)
	log.Printf("component=engine action=complete task=%s refinements=%d needs_review=%v cost=%.6f",
		rec.ID, rec.State.Refinements, rec.State.NeedsReview, rec.State.CostSoFar)
	return rec
}

// interrupted resolves a context-level stop: wall-clock expiry is a failure
// with a recorded cause, a cancel request terminates as cancelled.
func (e *Engine) interrupted(rec *store.TaskRecord, err error) *store.TaskRecord {
	if errors.Is(err, context.DeadlineExceeded) {
		return e.fail(rec, fmt.Errorf("wall-clock timeout exceeded after phase %s", rec.State.Phase))
	}
	rec.Status = store.StatusCancelled
	if perr := e.persist(rec); perr != nil {
		log.Printf("component=engine action=persist_cancel task=%s error=%v", rec.ID, perr)
	}
	e.publishTerminal(rec)
	log.Printf("component=engine action=cancelled task=%s phase=%s", rec.ID, rec.State.Phase)
	return rec
}

// fail records a terminal failure. No path leaves a task in a non-terminal
// status without a recorded cause.
func (e *Engine) fail(rec *store.TaskRecord, cause error) *store.TaskRecord {
	rec.Status = store.StatusFailed
	rec.Error = cause.Error()
	if perr := e.persist(rec); perr != nil {
		log.Printf("component=engine action=persist_failure task=%s error=%v", rec.ID, perr)
	}
	e.publishTerminal(rec)
	log.Printf("component=engine action=failed task=%s phase=%s error=%v", rec.ID, rec.State.Phase, cause)
	return rec
}

// persist writes the record with bounded backoff. It runs on its own
// context so a cancelled task still gets its terminal snapshot written.
func (e *Engine) persist(rec *store.TaskRecord) error {
	delay := e.persistDelay
	var last error
	for attempt := 0; attempt < e.persistTries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		ctx, cancelWrite := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.store.Update(ctx, rec)
		cancelWrite()
		if err == nil {
			return nil
		}
		last = err
		log.Printf("component=engine action=persist_retry task=%s attempt=%d error=%v",
			rec.ID, attempt+1, err)
	}
	return last
}

func (e *Engine) publishPhase(rec *store.TaskRecord, phase pipeline.Phase) {
	s := rec.State
	var source string
	switch phase {
	case pipeline.PhaseResearch:
		source = s.Research
	case pipeline.PhaseOutline:
		source = s.Outline
	case pipeline.PhaseFinalize:
		source = s.Content
	default:
		source = s.Draft
	}
	e.brokerFor(rec.ID).publish(Event{
		Type:         EventPhase,
		TaskID:       rec.ID,
		Phase:        phase,
		Status:       rec.Status,
		Progress:     pipeline.StreamProgress(s),
		QualityScore: s.QualityScore(),
		CostSoFar:    s.CostSoFar,
		Preview:      preview(source),
		Timestamp:    time.Now().UTC(),
	})
}

func (e *Engine) terminalEvent(rec *store.TaskRecord) Event {
	ev := Event{
		Type:      EventTerminal,
		TaskID:    rec.ID,
		Status:    rec.Status,
		Progress:  pipeline.Progress(rec.State),
		CostSoFar: rec.State.CostSoFar,
		Error:     rec.Error,
		Timestamp: time.Now().UTC(),
	}
	if rec.Status == store.StatusCompleted {
		ev.QualityScore = rec.State.QualityScore()
		ev.Result = resultFromState(rec.State)
	}
	return ev
}

func (e *Engine) publishTerminal(rec *store.TaskRecord) {
	e.brokerFor(rec.ID).publish(e.terminalEvent(rec))
}
