// Copyright 2024-2026 Aiku AI

// Package queue provides the per-destination outbound send queue. Each
// queue guarantees at-most-one concurrent send for its scope, paces sends
// by a minimum interval, and transparently retries tasks that fail with a
// recognizable flood-control signal.
package queue

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned when enqueueing on a closed queue.
var ErrQueueClosed = errors.New("send queue closed")

const (
	// maxAttempts is the ceiling on executions of a single task, counting
	// the first attempt and flood-wait retries.
	maxAttempts = 3
	taskBuffer  = 1024
)

var (
	floodWaitTokenRe = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)
	floodWaitProseRe = regexp.MustCompile(`wait of (\d+) seconds?`)
)

// Task is one unit of outbound work. It runs on the queue worker and its
// result is handed back to the enqueuing caller.
type Task func(ctx context.Context) (any, error)

type queuedTask struct {
	ctx    context.Context
	run    Task
	result chan outcome
}

type outcome struct {
	value any
	err   error
}

// SendQueue serializes sends toward one destination scope (typically one
// platform). Tasks execute strictly in enqueue order; a failed task delays
// but never blocks the ones behind it.
type SendQueue struct {
	name        string
	minInterval time.Duration
	log         zerolog.Logger

	tasks chan *queuedTask

	mu              sync.Mutex
	nextAvailableAt time.Time

	closeOnce sync.Once
	done      chan struct{}

	// floodUnit and floodBuffer scale flood-wait sleeps; tests shrink them
	// so a FLOOD_WAIT_5 does not stall the suite for five seconds.
	floodUnit   time.Duration
	floodBuffer time.Duration
}

// New creates a queue for the given scope and starts its worker.
// minInterval is the pacing delay between successful sends; zero disables
// pacing (test/CI mode).
func New(name string, minInterval time.Duration, log zerolog.Logger) *SendQueue {
	q := &SendQueue{
		name:        name,
		minInterval: minInterval,
		log:         log.With().Str("component", "send_queue").Str("scope", name).Logger(),
		tasks:       make(chan *queuedTask, taskBuffer),
		done:        make(chan struct{}),
		floodUnit:   time.Second,
		floodBuffer: time.Second,
	}
	go q.worker()
	return q
}

// Enqueue appends a task to the scope's chain and blocks until the task has
// settled. The returned error is the task's own error (after the queue's
// flood-wait retries), never another task's.
func (q *SendQueue) Enqueue(ctx context.Context, task Task) (any, error) {
	qt := &queuedTask{ctx: ctx, run: task, result: make(chan outcome, 1)}
	select {
	case q.tasks <- qt:
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-qt.result:
		return out.value, out.err
	case <-q.done:
		return nil, ErrQueueClosed
	}
}

// NextAvailableAt returns the earliest time the next send may start.
func (q *SendQueue) NextAvailableAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextAvailableAt
}

func (q *SendQueue) setNextAvailableAt(t time.Time) {
	q.mu.Lock()
	q.nextAvailableAt = t
	q.mu.Unlock()
}

// Close stops the worker. Queued and in-flight Enqueue callers receive
// ErrQueueClosed; a task already being delivered completes.
func (q *SendQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *SendQueue) worker() {
	for {
		select {
		case <-q.done:
			return
		case qt := <-q.tasks:
			qt.result <- q.execute(qt)
		}
	}
}

// execute runs one task: wait for the pacing window, run, and on a
// flood-control failure sleep out the demanded wait and retry the same
// task up to the attempt ceiling.
func (q *SendQueue) execute(qt *queuedTask) outcome {
	if wait := time.Until(q.NextAvailableAt()); wait > 0 {
		if !q.sleep(wait) {
			return outcome{err: ErrQueueClosed}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := qt.run(qt.ctx)
		if err == nil {
			q.setNextAvailableAt(time.Now().Add(q.minInterval))
			return outcome{value: value}
		}
		lastErr = err

		seconds, ok := ParseFloodWait(err)
		if !ok {
			return outcome{err: err}
		}

		wait := time.Duration(seconds)*q.floodUnit + q.floodBuffer
		q.setNextAvailableAt(time.Now().Add(wait))
		q.log.Warn().
			Err(err).
			Int("seconds", seconds).
			Int("attempt", attempt).
			Msg("Flood control hit, backing off")
		if !q.sleep(wait) {
			return outcome{err: ErrQueueClosed}
		}
	}

	q.log.Error().Err(lastErr).Int("attempts", maxAttempts).Msg("Flood-wait retries exhausted")
	return outcome{err: lastErr}
}

// sleep waits for d unless the queue closes first.
func (q *SendQueue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.done:
		return false
	}
}

// ParseFloodWait extracts the demanded wait in seconds from a rate-limit
// error. Two shapes are recognized: an explicit FLOOD_WAIT_<seconds> token
// and the prose "wait of N seconds" phrase.
func ParseFloodWait(err error) (seconds int, ok bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	if m := floodWaitTokenRe.FindStringSubmatch(msg); m != nil {
		n, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return n, true
		}
	}
	if m := floodWaitProseRe.FindStringSubmatch(msg); m != nil {
		n, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			return n, true
		}
	}
	return 0, false
}
