package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EventType represents the type of workflow lifecycle event.
type EventType string

const (
	// EventWorkflowStateChanged is emitted on every run status transition.
	EventWorkflowStateChanged EventType = "workflow_state_changed"

	// EventStageStateChanged is emitted on every stage status transition.
	EventStageStateChanged EventType = "stage_state_changed"

	// EventCostAlertRaised is emitted when the cost tracker raises a budget
	// warning or denial.
	EventCostAlertRaised EventType = "cost_alert_raised"
)

// Event is a workflow lifecycle event. Exactly one of the payload fields is
// set, matching Type.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	WorkflowStateChanged *WorkflowStateChanged `json:"workflow_state_changed,omitempty"`
	StageStateChanged    *StageStateChanged    `json:"stage_state_changed,omitempty"`
	CostAlertRaised      *CostAlertRaised      `json:"cost_alert_raised,omitempty"`
}

// WorkflowStateChanged reports a run status transition.
type WorkflowStateChanged struct {
	ProjectID string    `json:"project_id"`
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
}

// StageStateChanged reports a stage status transition.
type StageStateChanged struct {
	ProjectID    string         `json:"project_id"`
	RunID        string         `json:"run_id"`
	StageName    string         `json:"stage_name"`
	Status       StageStatus    `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// CostAlertRaised reports a budget warning or denial.
type CostAlertRaised struct {
	ProjectID   string  `json:"project_id"`
	Level       string  `json:"level"`
	Message     string  `json:"message"`
	CurrentCost float64 `json:"current_cost"`
	Limit       float64 `json:"limit"`
	LimitType   string  `json:"limit_type"`
}

// EventListener is a function that handles workflow lifecycle events.
type EventListener func(ctx context.Context, event *Event) error

// EventEmitter manages listeners and dispatches lifecycle events.
//
// Delivery is at-least-once to the listeners registered at emit time; events
// are not persisted or replayed. For a given run, events are emitted in the
// order the transitions occur.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	async     bool
}

// NewEventEmitter creates a new event emitter. With async true, listeners
// run concurrently per event; the emitter still waits for all of them so
// per-run ordering is preserved across consecutive emits.
func NewEventEmitter(async bool) *EventEmitter {
	return &EventEmitter{
		listeners: make(map[EventType][]EventListener),
		async:     async,
	}
}

// On registers a listener for the specified event type.
func (e *EventEmitter) On(eventType EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// Off removes all listeners for the event type.
func (e *EventEmitter) Off(eventType EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, eventType)
}

// ListenerCount returns the number of listeners for a given event type.
func (e *EventEmitter) ListenerCount(eventType EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[eventType])
}

// Emit dispatches an event to all registered listeners. A listener error
// does not stop delivery to the remaining listeners; the last error is
// returned.
func (e *EventEmitter) Emit(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	listeners := make([]EventListener, len(e.listeners[event.Type]))
	copy(listeners, e.listeners[event.Type])
	e.mu.RUnlock()

	if e.async {
		return e.emitAsync(ctx, event, listeners)
	}
	return e.emitSync(ctx, event, listeners)
}

func (e *EventEmitter) emitSync(ctx context.Context, event *Event, listeners []EventListener) error {
	var lastErr error
	for _, listener := range listeners {
		if err := listener(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *EventEmitter) emitAsync(ctx context.Context, event *Event, listeners []EventListener) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))

	for _, listener := range listeners {
		wg.Add(1)
		go func(l EventListener) {
			defer wg.Done()
			if err := l(ctx, event); err != nil {
				errCh <- err
			}
		}(listener)
	}

	wg.Wait()
	close(errCh)

	var lastErr error
	for err := range errCh {
		lastErr = err
	}
	return lastErr
}

// EmitWorkflowStateChanged emits a run status transition event.
func (e *EventEmitter) EmitWorkflowStateChanged(ctx context.Context, projectID, runID string, status RunStatus, message string) error {
	return e.Emit(ctx, &Event{
		Type: EventWorkflowStateChanged,
		WorkflowStateChanged: &WorkflowStateChanged{
			ProjectID: projectID,
			RunID:     runID,
			Status:    status,
			Message:   message,
		},
	})
}

// EmitStageStateChanged emits a stage status transition event.
func (e *EventEmitter) EmitStageStateChanged(ctx context.Context, projectID, runID string, result *StageResult) error {
	return e.Emit(ctx, &Event{
		Type: EventStageStateChanged,
		StageStateChanged: &StageStateChanged{
			ProjectID:    projectID,
			RunID:        runID,
			StageName:    result.StageName,
			Status:       result.Status,
			Output:       result.Output,
			ErrorMessage: result.ErrorMessage,
		},
	})
}

// EmitCostAlert emits a cost alert event.
func (e *EventEmitter) EmitCostAlert(ctx context.Context, alert *CostAlertRaised) error {
	return e.Emit(ctx, &Event{
		Type:            EventCostAlertRaised,
		CostAlertRaised: alert,
	})
}
