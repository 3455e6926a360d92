package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrLaneCleared is returned to tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("lane cleared")
	// ErrLaneReset is returned to tasks dropped by ResetLane or queued before it.
	ErrLaneReset = errors.New("lane reset")
	// ErrClosed is returned once the queue is shutting down.
	ErrClosed = errors.New("command queue closed")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	active      map[string]bool
	mu          sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event describes a task entering or leaving a lane.
type Event struct {
	Type   string // "enqueued" or "completed"
	Lane   string
	TaskID string
	Data   map[string]interface{}
}

// CommandQueue runs tasks FIFO per lane with a per-lane concurrency limit.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a CommandQueue. Lanes are created on first use with concurrency 1.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[string][]EventHandler),
	}
}

// SessionLane names the lane that serializes one call session.
func SessionLane(sessionKey string) string {
	return "session-" + sessionKey
}

func (cq *CommandQueue) lane(name string, create bool) *laneState {
	cq.mu.RLock()
	ls := cq.lanes[name]
	cq.mu.RUnlock()
	if ls != nil || !create {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls = cq.lanes[name]; ls == nil {
		ls = &laneState{concurrency: 1, active: make(map[string]bool)}
		cq.lanes[name] = ls
		log.Debug().Str("lane", name).Msg("Lane initialized")
	}
	return ls
}

// Enqueue runs task on lane and waits for its result.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "voicedesk.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	ls := cq.lane(lane, true)
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	record.generation = ls.generation
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)
	cq.emit(Event{Type: "enqueued", Lane: lane, TaskID: taskID, Data: map[string]interface{}{"queue_size": queueSize}})

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}
	cq.processLane(lane)

	select {
	case result := <-record.result:
		if result.err != nil {
			tracing.FailSpan(span, result.err)
		}
		return result.value, result.err
	case <-ctx.Done():
		cq.remove(lane, record)
		tracing.FailSpan(span, ctx.Err())
		return nil, ctx.Err()
	}
}

// remove drops a record that is still waiting in the lane.
func (cq *CommandQueue) remove(lane string, record *taskRecord) {
	ls := cq.lane(lane, false)
	if ls == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			observability.SetQueueSize(lane, len(ls.queue))
			return
		}
	}
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane, false)
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running() < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if record.generation != ls.generation {
			record.result <- taskResult{err: ErrLaneReset}
			continue
		}

		ls.active[record.id] = true
		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (ls *laneState) running() int {
	return len(ls.active)
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "voicedesk.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	ls.mu.Lock()
	delete(ls.active, record.id)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)
	cq.emit(Event{
		Type:   "completed",
		Lane:   lane,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"success":     err == nil,
		},
	})

	cq.processLane(lane)
}

func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane, false)
		if ls == nil {
			return
		}
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("task_id", record.id).
				Dur("wait", wait).
				Int("queue_pos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-record.ctx.Done():
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls := cq.lane(lane, false)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	ls := cq.lane(lane, false)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running()
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running(),
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ClearLane rejects every queued task of a lane and returns how many were dropped.
func (cq *CommandQueue) ClearLane(lane string) int {
	return cq.dropQueued(lane, ErrLaneCleared, false)
}

// ResetLane bumps the lane generation and rejects queued tasks.
func (cq *CommandQueue) ResetLane(lane string) {
	cq.dropQueued(lane, ErrLaneReset, true)
}

func (cq *CommandQueue) dropQueued(lane string, reason error, bump bool) int {
	ls := cq.lane(lane, false)
	if ls == nil {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if bump {
		ls.generation++
	}
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: reason}
	}
	ls.queue = nil

	log.Debug().Str("lane", lane).Int("dropped", count).Int("generation", ls.generation).Msg("Lane drained")
	observability.SetQueueSize(lane, 0)
	return count
}

// RemoveLane forgets an idle lane. It reports false while tasks are queued or running.
func (cq *CommandQueue) RemoveLane(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return true
	}
	ls.mu.Lock()
	idle := len(ls.queue) == 0 && ls.running() == 0
	ls.mu.Unlock()
	if idle {
		delete(cq.lanes, lane)
	}
	return idle
}

// SetConcurrency updates the concurrency limit for a lane
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := cq.lane(lane, true)
	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	if concurrency > oldMax {
		cq.processLane(lane)
	}
}

// WaitForActive waits until no lane has a running task, or the timeout elapses.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		drained := true
		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if ls.running() > 0 {
				drained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks, rejects queued ones and waits for workers to exit.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]string, 0, len(cq.lanes))
	for name := range cq.lanes {
		lanes = append(lanes, name)
	}
	cq.mu.Unlock()

	for _, name := range lanes {
		cq.dropQueued(name, ErrClosed, true)
	}
	cq.cancel()
	cq.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type.
func (cq *CommandQueue) Off(eventType string) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	delete(cq.eventHandlers, eventType)
}

func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
