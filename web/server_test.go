// ABOUTME: Tests for the HTTP API: task lifecycle over the wire, validation
// ABOUTME: mapping, estimation, listing, cancellation, and rendered content.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389-research/wordmill/engine"
	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/provider"
	"github.com/2389-research/wordmill/quality"
	"github.com/2389-research/wordmill/render"
	"github.com/2389-research/wordmill/router"
	"github.com/2389-research/wordmill/store"
)

// newTestServer wires a full backend over the free-local provider behind an
// httptest server. A non-nil invoker replaces the router for fault injection.
func newTestServer(t *testing.T, invoker pipeline.Invoker) (*httptest.Server, *engine.Engine) {
	t.Helper()

	st, err := store.OpenSqlite(":memory:")
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if invoker == nil {
		invoker = router.New([]provider.Client{provider.NewLocalClient()})
	}
	nodes := pipeline.NewNodes(pipeline.Deps{
		Invoker:   invoker,
		Evaluator: quality.NewEvaluator(nil),
		Renderer:  render.New(),
	})
	eng := engine.New(st, nodes, router.NewPresetLibrary(), provider.DefaultCatalog(),
		engine.WithPersistRetry(3, time.Millisecond))
	t.Cleanup(eng.Wait)

	ts := httptest.NewServer(NewServer(ServerConfig{Engine: eng}))
	t.Cleanup(ts.Close)
	return ts, eng
}

func localTaskBody(t *testing.T) *bytes.Reader {
	t.Helper()
	req := pipeline.Request{
		Topic:  "renewable energy trends",
		Preset: router.PresetFast,
		Constraints: pipeline.Constraints{
			TargetWords: 1000,
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

func createTask(t *testing.T, ts *httptest.Server) createResponse {
	t.Helper()
	resp, err := http.Post(ts.URL+"/tasks", "application/json", localTaskBody(t))
	if err != nil {
		t.Fatalf("post /tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202", resp.StatusCode)
	}
	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created
}

func getTask(t *testing.T, ts *httptest.Server, id string) taskResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + "/tasks/" + id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	var tr taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return tr
}

func pollUntilTerminal(t *testing.T, ts *httptest.Server, id string) taskResponse {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		tr := getTask(t, ts, id)
		if tr.Status.Terminal() {
			return tr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state", id)
	return taskResponse{}
}

func TestCreateAndPollToCompletion(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	created := createTask(t, ts)
	if created.Task.Status != store.StatusPending && created.Task.Status != store.StatusRunning {
		t.Fatalf("fresh task status = %q", created.Task.Status)
	}
	if created.Estimate == nil {
		t.Fatal("create response missing estimate")
	}
	if created.Estimate.TotalUSD != 0 {
		t.Fatalf("fast preset estimate = %f, want 0", created.Estimate.TotalUSD)
	}

	final := pollUntilTerminal(t, ts, created.Task.ID)
	if final.Status != store.StatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", final.Status, final.Error)
	}
	if final.Progress != 1 {
		t.Fatalf("progress = %f, want 1", final.Progress)
	}
	if final.RefinementCount != 1 {
		t.Fatalf("refinement_count = %d, want 1", final.RefinementCount)
	}
	if final.NeedsReview {
		t.Fatal("unexpected needs_review on a passing run")
	}
	if !strings.Contains(final.Content, "# Renewable energy trends") {
		t.Fatalf("content missing title: %q", final.Content[:min(len(final.Content), 80)])
	}
	if final.QualityScore == nil || *final.QualityScore < 80 {
		t.Fatalf("quality_score = %v, want >= 80", final.QualityScore)
	}
	if final.WordCount == 0 || final.ReadingTime == 0 {
		t.Fatalf("word_count=%d reading_time=%d, want both set", final.WordCount, final.ReadingTime)
	}
}

func TestTaskContentServesHTML(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	created := createTask(t, ts)
	pollUntilTerminal(t, ts, created.Task.ID)

	resp, err := http.Get(ts.URL + "/tasks/" + created.Task.ID + "/content")
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("content status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "<h1") {
		t.Fatal("content response missing rendered heading")
	}
}

func TestTaskContentConflictBeforeCompletion(t *testing.T) {
	gate := newGateInvoker(pipeline.PhaseDraft)
	ts, eng := newTestServer(t, gate)
	created := createTask(t, ts)
	<-gate.started

	resp, err := http.Get(ts.URL + "/tasks/" + created.Task.ID + "/content")
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("content status = %d, want 409", resp.StatusCode)
	}

	if err := eng.Cancel(context.Background(), created.Task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pollUntilTerminal(t, ts, created.Task.ID)
}

func TestCreateValidationError(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/tasks", "application/json",
		strings.NewReader(`{"topic":"","preset":"fast"}`))
	if err != nil {
		t.Fatalf("post /tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["field"] != "topic" {
		t.Fatalf("error field = %q, want topic", body["field"])
	}

	// A rejected request leaves no record behind.
	listResp, err := http.Get(ts.URL + "/tasks")
	if err != nil {
		t.Fatalf("get /tasks: %v", err)
	}
	defer listResp.Body.Close()
	var tasks []taskResponse
	if err := json.NewDecoder(listResp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("list has %d tasks after rejected create, want 0", len(tasks))
	}
}

func TestGetUnknownTask(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/tasks/no-such-task")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	req := pipeline.Request{Topic: "solid state batteries", Preset: router.PresetQuality}
	body, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/estimate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post /estimate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var est router.Estimate
	if err := json.NewDecoder(resp.Body).Decode(&est); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if est.TotalUSD <= 0 {
		t.Fatalf("quality preset estimate = %f, want > 0", est.TotalUSD)
	}
	if len(est.Phases) == 0 {
		t.Fatal("estimate missing phase breakdown")
	}

	// No task was created.
	listResp, err := http.Get(ts.URL + "/tasks")
	if err != nil {
		t.Fatalf("get /tasks: %v", err)
	}
	defer listResp.Body.Close()
	var tasks []taskResponse
	if err := json.NewDecoder(listResp.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("list has %d tasks after estimate, want 0", len(tasks))
	}
}

func TestEstimateRejectsUnknownPreset(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/estimate", "application/json",
		strings.NewReader(`{"topic":"anything","preset":"mystery"}`))
	if err != nil {
		t.Fatalf("post /estimate: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPresetsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/presets")
	if err != nil {
		t.Fatalf("get /presets: %v", err)
	}
	defer resp.Body.Close()
	var body map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode presets: %v", err)
	}
	got := map[string]bool{}
	for _, name := range body["presets"] {
		got[name] = true
	}
	for _, want := range []string{router.PresetFast, router.PresetBalanced, router.PresetQuality} {
		if !got[want] {
			t.Fatalf("presets %v missing %q", body["presets"], want)
		}
	}
}

func TestListFiltersActiveTasks(t *testing.T) {
	gate := newGateInvoker(pipeline.PhaseOutline)
	ts, eng := newTestServer(t, gate)

	held := createTask(t, ts)
	<-gate.started

	resp, err := http.Get(ts.URL + "/tasks?active=true")
	if err != nil {
		t.Fatalf("get active tasks: %v", err)
	}
	defer resp.Body.Close()
	var active []taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(active) != 1 || active[0].ID != held.Task.ID {
		t.Fatalf("active list = %+v, want only %s", active, held.Task.ID)
	}

	if err := eng.Cancel(context.Background(), held.Task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pollUntilTerminal(t, ts, held.Task.ID)

	resp2, err := http.Get(ts.URL + "/tasks?active=true")
	if err != nil {
		t.Fatalf("get active tasks: %v", err)
	}
	defer resp2.Body.Close()
	var after []taskResponse
	if err := json.NewDecoder(resp2.Body).Decode(&after); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("active list after cancel has %d entries, want 0", len(after))
	}
}

func TestCancelEndpoint(t *testing.T) {
	gate := newGateInvoker(pipeline.PhaseDraft)
	ts, _ := newTestServer(t, gate)

	created := createTask(t, ts)
	<-gate.started

	resp, err := http.Post(ts.URL+"/tasks/"+created.Task.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202", resp.StatusCode)
	}

	final := pollUntilTerminal(t, ts, created.Task.ID)
	if final.Status != store.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if final.Error != "" {
		t.Fatalf("cancelled task carries error %q", final.Error)
	}

	// Cancelling a finished task is a conflict.
	again, err := http.Post(ts.URL+"/tasks/"+created.Task.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post cancel again: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", again.StatusCode)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/tasks/no-such-task/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// gateInvoker blocks its chosen phase until the context is cancelled,
// delegating everything else to the local provider.
type gateInvoker struct {
	inner   pipeline.Invoker
	phase   pipeline.Phase
	started chan struct{}
	once    sync.Once
}

func newGateInvoker(phase pipeline.Phase) *gateInvoker {
	return &gateInvoker{
		inner:   router.New([]provider.Client{provider.NewLocalClient()}),
		phase:   phase,
		started: make(chan struct{}),
	}
}

func (g *gateInvoker) Invoke(ctx context.Context, call pipeline.Call) (*pipeline.Invocation, error) {
	if call.Phase == g.phase {
		g.once.Do(func() { close(g.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.inner.Invoke(ctx, call)
}
