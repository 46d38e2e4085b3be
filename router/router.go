// ABOUTME: The model router: walks a phase's ordered fallback chain until one provider serves the call.
// ABOUTME: Every attempt, failed or successful, lands in the cost ledger as its own record.

package router

import (
	"context"
	"log"
	"time"

	"github.com/2389-research/wordmill/metrics"
	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/provider"
)

// DefaultCallTimeout bounds one provider attempt. Distinct from the task's
// overall wall-clock timeout.
const DefaultCallTimeout = 120 * time.Second

// Router dispatches pipeline calls across registered provider clients. It
// implements pipeline.Invoker.
type Router struct {
	clients     map[string]provider.Client
	catalog     *provider.Catalog
	library     *PresetLibrary
	recorder    metrics.Recorder
	callTimeout time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithRecorder sets the cost ledger attempts are recorded to.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithCallTimeout overrides the per-attempt timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Router) { r.callTimeout = d }
}

// WithCatalog overrides the model catalog used for alias resolution and
// pricing.
func WithCatalog(c *provider.Catalog) Option {
	return func(r *Router) { r.catalog = c }
}

// WithPresetLibrary overrides the preset library used for default chains.
func WithPresetLibrary(l *PresetLibrary) Option {
	return func(r *Router) { r.library = l }
}

// New builds a router over the given clients, keyed by client name.
func New(clients []provider.Client, opts ...Option) *Router {
	r := &Router{
		clients:     make(map[string]provider.Client, len(clients)),
		catalog:     provider.DefaultCatalog(),
		library:     NewPresetLibrary(),
		callTimeout: DefaultCallTimeout,
	}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Presets exposes the router's preset library.
func (r *Router) Presets() *PresetLibrary { return r.library }

// Catalog exposes the router's model catalog.
func (r *Router) Catalog() *provider.Catalog { return r.catalog }

// client resolves a model ID or alias to a registered client.
func (r *Router) client(id string) (provider.Client, bool) {
	if c, ok := r.clients[id]; ok {
		return c, true
	}
	if info := r.catalog.GetModelInfo(id); info != nil {
		if c, ok := r.clients[info.ID]; ok {
			return c, true
		}
	}
	return nil, false
}

// Invoke walks the call's fallback chain as an explicit iterative state
// machine: first untried provider, advance on unavailability, terminal
// ChainExhausted once the list runs out. Cancellation of the parent context
// stops the walk immediately.
func (r *Router) Invoke(ctx context.Context, call pipeline.Call) (*pipeline.Invocation, error) {
	chain := call.Chain
	if len(chain) == 0 {
		sel, err := r.library.Selection(DefaultPreset)
		if err != nil {
			return nil, err
		}
		chain = sel[call.Phase]
	}

	tried := make([]string, 0, len(chain))
	var lastErr error

	for _, id := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		client, ok := r.client(id)
		if !ok {
			lastErr = &provider.UnavailableError{
				Provider: id,
				Reason:   provider.ReasonNetwork,
				Message:  "no client registered for model",
			}
			tried = append(tried, id)
			r.recordAttempt(call, id, "", 0, provider.Usage{}, nil, metrics.OutcomeFailure)
			continue
		}

		estCost := r.attemptEstimate(client, call)

		attemptCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		resp, err := client.Invoke(attemptCtx, provider.Request{
			Phase:     string(call.Phase),
			System:    call.System,
			Prompt:    call.Prompt,
			MaxTokens: call.MaxTokens,
		})
		cancel()

		if err != nil {
			// The parent being cancelled is the caller's doing, never the
			// provider's; stop without recording a provider failure.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			classified := provider.ClassifyTransportError(client.Name(), err)
			ue, ok := provider.Unavailable(classified)
			if !ok {
				return nil, classified
			}
			outcome := metrics.OutcomeFailure
			if ue.Reason == provider.ReasonTimeout {
				outcome = metrics.OutcomeTimeout
			}
			tried = append(tried, client.Name())
			lastErr = ue
			r.recordAttempt(call, client.Name(), "", estCost, provider.Usage{}, nil, outcome)
			log.Printf("component=router action=fallback task=%s phase=%s provider=%s reason=%s",
				call.TaskID, call.Phase, client.Name(), ue.Reason)
			continue
		}

		actual := client.Pricing().Cost(resp.Usage)
		r.recordAttempt(call, client.Name(), resp.Model, estCost, resp.Usage, &actual, metrics.OutcomeSuccess)
		return &pipeline.Invocation{
			Text:  resp.Text,
			Model: resp.Model,
			Usage: resp.Usage,
			Cost:  actual,
		}, nil
	}

	return nil, &provider.ChainExhaustedError{
		Phase: string(call.Phase),
		Tried: tried,
		Last:  lastErr,
	}
}

// attemptEstimate prices the call against a provider before attempting it.
func (r *Router) attemptEstimate(client provider.Client, call pipeline.Call) float64 {
	usage := provider.Usage{
		InputTokens:  client.EstimateTokens(call.System + call.Prompt),
		OutputTokens: call.MaxTokens,
	}
	return client.Pricing().Cost(usage)
}

// recordAttempt appends a cost record; ledger failures are logged, never
// allowed to fail the call itself.
func (r *Router) recordAttempt(call pipeline.Call, providerName, model string, estCost float64, usage provider.Usage, actual *float64, outcome metrics.Outcome) {
	if r.recorder == nil {
		return
	}
	rec := metrics.CostRecord{
		TaskID:        call.TaskID,
		Phase:         string(call.Phase),
		Provider:      providerName,
		Model:         model,
		EstimatedCost: estCost,
		ActualCost:    actual,
		InputTokens:   usage.InputTokens,
		OutputTokens:  usage.OutputTokens,
		Outcome:       outcome,
	}
	// Recording must not inherit the call's cancellation: a cancelled task
	// still gets its attempts billed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.recorder.Record(ctx, rec); err != nil {
		log.Printf("component=router action=record_cost task=%s phase=%s error=%v",
			call.TaskID, call.Phase, err)
	}
}

var _ pipeline.Invoker = (*Router)(nil)

// Close closes every registered client, returning the first error seen.
func (r *Router) Close() error {
	var first error
	for _, c := range r.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
