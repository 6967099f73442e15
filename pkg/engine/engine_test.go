package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tombee/maestro/pkg/agent"
	"github.com/tombee/maestro/pkg/cost"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/project"
	"github.com/tombee/maestro/pkg/workflow"
)

// scriptedExecutor records invocation order and runs per-agent-type scripts.
type scriptedExecutor struct {
	mu      sync.Mutex
	calls   []string
	scripts map[string]func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error)
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		scripts: make(map[string]func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error)),
	}
}

func (s *scriptedExecutor) on(agentType string, fn func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error)) {
	s.scripts[agentType] = fn
}

func (s *scriptedExecutor) Execute(ctx context.Context, agentType string, params map[string]any, runContext map[string]any) (*agent.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, agentType)
	s.mu.Unlock()

	if fn, ok := s.scripts[agentType]; ok {
		return fn(ctx, params, runContext)
	}
	return &agent.Result{Output: map[string]any{"done": true}}, nil
}

func (s *scriptedExecutor) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestStore(t *testing.T, projectID string, cfg cost.Config) *project.MemoryStore {
	t.Helper()
	store := project.NewMemoryStore()
	err := store.AddProject(&project.Project{
		ID:         projectID,
		Name:       "Test",
		CostConfig: cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func chainWorkflow() workflow.Configuration {
	return workflow.Configuration{
		Name: "chain",
		Stages: []workflow.Stage{
			{Name: "review", AgentType: "reviewer", DependsOn: []string{"implement"}},
			{Name: "plan", AgentType: "planner"},
			{Name: "implement", AgentType: "coder", DependsOn: []string{"plan"}},
		},
	}
}

func TestExecuteWorkflowRunsStagesInPlanOrder(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", chainWorkflow())
	if err != nil {
		t.Fatalf("ExecuteWorkflow() error = %v", err)
	}

	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v, error = %q", run.Status, run.ErrorMessage)
	}
	if run.ID == "" || run.CompletedAt == nil {
		t.Errorf("terminal run not fully stamped: %+v", run)
	}

	order := exec.callOrder()
	want := []string{"planner", "coder", "reviewer"}
	if len(order) != len(want) {
		t.Fatalf("call order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, order[i], want[i])
		}
	}

	if len(run.StageResults) != 3 {
		t.Fatalf("StageResults = %d", len(run.StageResults))
	}
	for _, r := range run.StageResults {
		if r.Status != workflow.StageStatusCompleted {
			t.Errorf("stage %s status = %v", r.StageName, r.Status)
		}
	}
}

func TestExecuteWorkflowPropagatesStageOutputs(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("planner", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		return &agent.Result{Output: map[string]any{"summary": "three steps"}}, nil
	})

	var coderSaw any
	exec.on("coder", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		coderSaw = runContext["stage.plan.summary"]
		return &agent.Result{}, nil
	})

	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", workflow.Configuration{
		Name: "outputs",
		Stages: []workflow.Stage{
			{Name: "plan", AgentType: "planner"},
			{Name: "build", AgentType: "coder", DependsOn: []string{"plan"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v", run.Status)
	}
	if coderSaw != "three steps" {
		t.Errorf("downstream stage saw %v, want upstream output", coderSaw)
	}
}

func TestExecuteWorkflowHaltsOnStageFailure(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("coder", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		return nil, fmt.Errorf("compile error")
	})

	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusFailed {
		t.Fatalf("Status = %v", run.Status)
	}
	if len(run.StageResults) != 2 {
		t.Fatalf("StageResults = %d, want planner + failed coder only", len(run.StageResults))
	}
	failed := run.StageResult("implement")
	if failed == nil || failed.Status != workflow.StageStatusFailed || failed.ErrorMessage != "compile error" {
		t.Errorf("failed stage = %+v", failed)
	}
	for _, called := range exec.callOrder() {
		if called == "reviewer" {
			t.Error("stage after the failure still executed")
		}
	}
}

func TestExecuteWorkflowPlanningFailureExecutesNothing(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", workflow.Configuration{
		Name: "cyclic",
		Stages: []workflow.Stage{
			{Name: "a", AgentType: "w", DependsOn: []string{"b"}},
			{Name: "b", AgentType: "w", DependsOn: []string{"a"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusFailed {
		t.Fatalf("Status = %v", run.Status)
	}
	if len(run.StageResults) != 0 {
		t.Errorf("StageResults = %d, want 0 after planning failure", len(run.StageResults))
	}
	if len(exec.callOrder()) != 0 {
		t.Error("executor invoked despite planning failure")
	}
}

func TestExecuteWorkflowSkipsByCondition(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", workflow.Configuration{
		Name:    "conditional",
		Options: map[string]any{"deploy": false},
		Stages: []workflow.Stage{
			{Name: "build", AgentType: "coder"},
			{
				Name:      "deploy",
				AgentType: "deployer",
				DependsOn: []string{"build"},
				Condition: &workflow.Condition{Type: workflow.ConditionIf, Expression: "deploy"},
			},
			{
				Name:      "cleanup",
				AgentType: "cleaner",
				DependsOn: []string{"deploy"},
				Condition: &workflow.Condition{Type: workflow.ConditionWhen, Expression: "stage.deploy.skipped"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v", run.Status)
	}
	if got := run.StageResult("deploy").Status; got != workflow.StageStatusSkipped {
		t.Errorf("deploy status = %v", got)
	}
	if got := run.StageResult("cleanup").Status; got != workflow.StageStatusCompleted {
		t.Errorf("cleanup status = %v, want to run because deploy was skipped", got)
	}
	for _, called := range exec.callOrder() {
		if called == "deployer" {
			t.Error("skipped stage invoked the executor")
		}
	}
}

func TestExecuteWorkflowAsyncCancellation(t *testing.T) {
	exec := newScriptedExecutor()
	stageStarted := make(chan struct{})
	exec.on("slow", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		close(stageStarted)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	cfg := workflow.Configuration{
		Name: "cancellable",
		Stages: []workflow.Stage{
			{Name: "first", AgentType: "fast"},
			{Name: "second", AgentType: "slow", DependsOn: []string{"first"}},
			{Name: "third", AgentType: "fast", DependsOn: []string{"second"}},
			{Name: "fourth", AgentType: "fast", DependsOn: []string{"third"}},
		},
	}

	runID, done, err := eng.ExecuteWorkflowAsync(context.Background(), "p1", cfg)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-stageStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("second stage never started")
	}

	if err := eng.Cancel(runID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	var run *workflow.Run
	select {
	case run = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}

	if run.Status != workflow.RunStatusCancelled {
		t.Fatalf("Status = %v, error = %q", run.Status, run.ErrorMessage)
	}
	if len(run.StageResults) != 2 {
		t.Fatalf("StageResults = %d, want first + aborted second only", len(run.StageResults))
	}
	if got := run.StageResult("first").Status; got != workflow.StageStatusCompleted {
		t.Errorf("first stage status = %v", got)
	}
	if run.StageResult("third") != nil || run.StageResult("fourth") != nil {
		t.Error("stages after cancellation still recorded results")
	}
	if eng.ActiveRuns() != 0 {
		t.Errorf("ActiveRuns = %d after terminal run", eng.ActiveRuns())
	}
}

func TestCancelUnknownRun(t *testing.T) {
	eng := New(newScriptedExecutor(), project.NewMemoryStore())

	err := eng.Cancel("ghost")
	if err == nil {
		t.Fatal("Cancel(ghost) succeeded")
	}
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("error = %T, want *errors.NotFoundError", err)
	}
}

func TestResumeUnsupported(t *testing.T) {
	eng := New(newScriptedExecutor(), project.NewMemoryStore())
	if err := eng.Resume("any"); err != ErrResumeUnsupported {
		t.Errorf("Resume() = %v, want ErrResumeUnsupported", err)
	}
}

func TestExecuteWorkflowBudgetDeniedBeforeStart(t *testing.T) {
	exec := newScriptedExecutor()
	ctx := context.Background()
	dayLimit := 1.0
	store := newTestStore(t, "p1", cost.Config{Enabled: true, MaxCostPerDay: &dayLimit})
	if err := store.SaveCostSummary(ctx, "p1", cost.Summary{
		TodayCost:   5,
		MonthCost:   5,
		TotalCost:   5,
		LastUpdated: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	tracker := cost.NewTracker(cost.NewRateTable(), store, store)
	eng := New(exec, store, WithTracker(tracker))

	run, err := eng.ExecuteWorkflow(ctx, "p1", chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusFailed {
		t.Fatalf("Status = %v", run.Status)
	}
	if len(exec.callOrder()) != 0 {
		t.Error("executor invoked despite budget denial")
	}
}

func TestExecuteWorkflowRecordsCost(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("coder", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		return &agent.Result{
			Output: map[string]any{"done": true},
			Usage: agent.TokenUsage{
				InputTokens:  1000,
				OutputTokens: 500,
				Provider:     "openai",
				Model:        "gpt-4",
			},
		}, nil
	})

	store := newTestStore(t, "p1", cost.Config{Enabled: true})
	tracker := cost.NewTracker(cost.NewRateTable(), store, store)
	eng := New(exec, store, WithTracker(tracker))

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", workflow.Configuration{
		Name:   "priced",
		Stages: []workflow.Stage{{Name: "build", AgentType: "coder"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v", run.Status)
	}

	summary, err := tracker.Summary(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	// 1000 input at $0.03/1k + 500 output at $0.06/1k
	if d := summary.TotalCost - 0.06; d > 1e-9 || d < -1e-9 {
		t.Errorf("TotalCost = %v, want 0.06", summary.TotalCost)
	}
	if summary.TotalTokens != 1500 {
		t.Errorf("TotalTokens = %d", summary.TotalTokens)
	}
}

func TestExecuteWorkflowRunBudgetStopsMidRun(t *testing.T) {
	exec := newScriptedExecutor()
	pricedStage := func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		return &agent.Result{
			Output: map[string]any{"done": true},
			Usage: agent.TokenUsage{
				InputTokens:  1000,
				OutputTokens: 500,
				Provider:     "openai",
				Model:        "gpt-4",
			},
		}, nil
	}
	// Every stage costs $0.06 against a $0.05 per-run cap, so the cap can
	// only trip on accumulated spend after the first stage lands.
	exec.on("planner", pricedStage)
	exec.on("coder", pricedStage)
	exec.on("reviewer", pricedStage)

	runLimit := 0.05
	store := newTestStore(t, "p1", cost.Config{Enabled: true, MaxCostPerRun: &runLimit})
	tracker := cost.NewTracker(cost.NewRateTable(), store, store)
	eng := New(exec, store, WithTracker(tracker))

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusFailed {
		t.Fatalf("Status = %v, want failed", run.Status)
	}
	if got := len(exec.callOrder()); got != 1 {
		t.Errorf("executor invoked %d times, want 1", got)
	}
	if len(run.StageResults) != 1 {
		t.Errorf("StageResults = %d, want 1", len(run.StageResults))
	}
	if run.ErrorMessage == "" {
		t.Error("terminal run carries no error message")
	}
}

func TestExecuteWorkflowTokenBudgetStopsMidRun(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("planner", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		return &agent.Result{
			Output: map[string]any{"done": true},
			Usage: agent.TokenUsage{
				InputTokens:  1000,
				OutputTokens: 500,
				Provider:     "openai",
				Model:        "gpt-4",
			},
		}, nil
	})

	tokenLimit := 1000
	store := newTestStore(t, "p1", cost.Config{Enabled: true, MaxTokensPerRun: &tokenLimit})
	tracker := cost.NewTracker(cost.NewRateTable(), store, store)
	eng := New(exec, store, WithTracker(tracker))

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusFailed {
		t.Fatalf("Status = %v, want failed", run.Status)
	}
	// 1500 tokens recorded by the first stage exceed the cap before the
	// second stage can start.
	if got := len(run.StageResults); got != 1 {
		t.Errorf("StageResults = %d, want 1", got)
	}
}

// costDuringPersistStore records spend through the tracker at the start of
// every UpdateState, simulating a concurrent run landing cost between the
// engine's state read and its write.
type costDuringPersistStore struct {
	*project.MemoryStore
	tracker *cost.Tracker
}

func (s *costDuringPersistStore) UpdateState(ctx context.Context, projectID string, state *project.State) error {
	rc := s.tracker.Calculate("openai", "gpt-4", 1000, 500)
	if err := s.tracker.Record(ctx, projectID, "other-run", rc); err != nil {
		return err
	}
	return s.MemoryStore.UpdateState(ctx, projectID, state)
}

func TestRunPersistenceKeepsConcurrentCostRecords(t *testing.T) {
	exec := newScriptedExecutor()
	inner := newTestStore(t, "p1", cost.Config{Enabled: true})
	tracker := cost.NewTracker(cost.NewRateTable(), inner, inner)
	store := &costDuringPersistStore{MemoryStore: inner, tracker: tracker}
	eng := New(exec, store, WithTracker(tracker))

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v, error = %q", run.Status, run.ErrorMessage)
	}

	summary, err := tracker.Summary(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if d := summary.TotalCost - 0.06; d > 1e-9 || d < -1e-9 {
		t.Errorf("TotalCost = %v after run persisted, want 0.06", summary.TotalCost)
	}
}

func TestExecuteWorkflowPersistsRunHistory(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)
	ctx := context.Background()

	run, err := eng.ExecuteWorkflow(ctx, "p1", chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	state, err := store.GetState(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	stored := state.Run(run.ID)
	if stored == nil {
		t.Fatal("terminal run not found in project history")
	}
	if stored.Status != workflow.RunStatusCompleted || len(stored.StageResults) != 3 {
		t.Errorf("stored run = %+v", stored)
	}
	if state.LastRunAt == nil {
		t.Error("LastRunAt not stamped")
	}
}

func TestExecuteWorkflowEmitsOrderedEvents(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	var mu sync.Mutex
	var events []*workflow.Event
	record := func(ctx context.Context, e *workflow.Event) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil
	}
	eng.Events().On(workflow.EventWorkflowStateChanged, record)
	eng.Events().On(workflow.EventStageStateChanged, record)

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", workflow.Configuration{
		Name:   "single",
		Stages: []workflow.Stage{{Name: "only", AgentType: "worker"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v", run.Status)
	}

	mu.Lock()
	defer mu.Unlock()

	// running workflow, running stage, completed stage, completed workflow
	if len(events) != 4 {
		t.Fatalf("got %d events", len(events))
	}
	first, last := events[0], events[len(events)-1]
	if first.Type != workflow.EventWorkflowStateChanged || first.WorkflowStateChanged.Status != workflow.RunStatusRunning {
		t.Errorf("first event = %+v", first)
	}
	if last.Type != workflow.EventWorkflowStateChanged || last.WorkflowStateChanged.Status != workflow.RunStatusCompleted {
		t.Errorf("last event = %+v", last)
	}
	if events[1].Type != workflow.EventStageStateChanged || events[1].StageStateChanged.Status != workflow.StageStatusRunning {
		t.Errorf("second event = %+v", events[1])
	}
	if events[2].Type != workflow.EventStageStateChanged || events[2].StageStateChanged.Status != workflow.StageStatusCompleted {
		t.Errorf("third event = %+v", events[2])
	}
}

func TestCostAlertSinkBridgesToEvents(t *testing.T) {
	exec := newScriptedExecutor()
	limit := 0.0001
	store := newTestStore(t, "p1", cost.Config{Enabled: true, MaxCostPerRun: &limit})
	eng := New(exec, store)
	tracker := cost.NewTracker(cost.NewRateTable(), store, store, cost.WithAlertSink(eng.CostAlertSink()))

	var mu sync.Mutex
	var alerts []*workflow.CostAlertRaised
	eng.Events().On(workflow.EventCostAlertRaised, func(ctx context.Context, e *workflow.Event) error {
		mu.Lock()
		alerts = append(alerts, e.CostAlertRaised)
		mu.Unlock()
		return nil
	})

	ok, err := tracker.CheckBudget(context.Background(), "p1", "run-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("CheckBudget passed past the limit")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 {
		t.Fatalf("got %d alert events", len(alerts))
	}
	if alerts[0].LimitType != "run" || alerts[0].Level != "error" {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestExecuteStageInIsolation(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("worker", func(ctx context.Context, params, runContext map[string]any) (*agent.Result, error) {
		if runContext["input"] != "seed" {
			return nil, fmt.Errorf("initial context not passed")
		}
		return &agent.Result{Output: map[string]any{"out": 42}}, nil
	})

	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)

	result, err := eng.ExecuteStage(context.Background(), "p1",
		workflow.Stage{Name: "solo", AgentType: "worker"},
		map[string]any{"input": "seed"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != workflow.StageStatusCompleted {
		t.Fatalf("Status = %v, error = %q", result.Status, result.ErrorMessage)
	}
	if result.Output["out"] != 42 {
		t.Errorf("Output = %+v", result.Output)
	}

	if _, err := eng.ExecuteStage(context.Background(), "ghost", workflow.Stage{Name: "x", AgentType: "w"}, nil); err == nil {
		t.Error("ExecuteStage for unknown project succeeded")
	}
}

func TestGetExecutionPlanAndValidate(t *testing.T) {
	eng := New(newScriptedExecutor(), project.NewMemoryStore())

	plan, err := eng.GetExecutionPlan(chainWorkflow())
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 3 || plan[0].Name != "plan" {
		t.Errorf("plan = %v", plan)
	}

	if errs := eng.ValidateWorkflow(chainWorkflow()); len(errs) != 0 {
		t.Errorf("ValidateWorkflow() = %v", errs)
	}
	if errs := eng.ValidateWorkflow(workflow.Configuration{Name: "empty"}); len(errs) == 0 {
		t.Error("ValidateWorkflow accepted an empty workflow")
	}
}

func TestConcurrentRunsDoNotLoseHistory(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	eng := New(exec, store)
	ctx := context.Background()

	cfg := workflow.Configuration{
		Name:   "tiny",
		Stages: []workflow.Stage{{Name: "only", AgentType: "worker"}},
	}

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.ExecuteWorkflow(ctx, "p1", cfg); err != nil {
				t.Errorf("ExecuteWorkflow() error = %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := store.GetState(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Runs) != n {
		t.Errorf("history = %d runs, want %d", len(state.Runs), n)
	}
}

func TestExecutorRateLimitPacesStages(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	// 20 invocations/s with burst 1: the first stage runs immediately, the
	// next two wait ~50ms each.
	eng := New(exec, store, WithExecutorRateLimit(20, 1))

	start := time.Now()
	run, err := eng.ExecuteWorkflow(context.Background(), "p1", chainWorkflow())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusCompleted {
		t.Fatalf("Status = %v, error = %q", run.Status, run.ErrorMessage)
	}
	if got := len(exec.callOrder()); got != 3 {
		t.Fatalf("executor invoked %d times, want 3", got)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("three stages at 20/s finished in %v, want at least ~100ms", elapsed)
	}
}

func TestExecutorRateLimitWaitFailsOnCancelledRun(t *testing.T) {
	exec := newScriptedExecutor()
	store := newTestStore(t, "p1", cost.Config{})
	// Burst 1 at a near-zero refill rate: the first stage consumes the only
	// token and the second stage's wait would block for hours.
	eng := New(exec, store, WithExecutorRateLimit(0.001, 1))

	// Cancel as the second stage starts. The running event is delivered
	// before the limiter wait, so the wait always observes the cancelled
	// context.
	eng.Events().On(workflow.EventStageStateChanged, func(ctx context.Context, event *workflow.Event) error {
		sc := event.StageStateChanged
		if sc.StageName == "second" && sc.Status == workflow.StageStatusRunning {
			return eng.Cancel(sc.RunID)
		}
		return nil
	})

	cfg := workflow.Configuration{
		Name: "paced",
		Stages: []workflow.Stage{
			{Name: "first", AgentType: "worker"},
			{Name: "second", AgentType: "worker", DependsOn: []string{"first"}},
		},
	}

	run, err := eng.ExecuteWorkflow(context.Background(), "p1", cfg)
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != workflow.RunStatusCancelled {
		t.Fatalf("Status = %v, want cancelled", run.Status)
	}
	if len(run.StageResults) != 2 {
		t.Fatalf("StageResults = %d, want 2", len(run.StageResults))
	}
	second := run.StageResults[1]
	if second.Status != workflow.StageStatusFailed {
		t.Errorf("second stage status = %v, want failed", second.Status)
	}
	if second.ErrorMessage == "" {
		t.Error("aborted limiter wait recorded no error message")
	}
	if got := len(exec.callOrder()); got != 1 {
		t.Errorf("executor invoked %d times, want 1", got)
	}
}
