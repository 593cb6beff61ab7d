// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package glmocr

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/antflydb/glmocr/lib/preprocess"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the request queue is at capacity
	ErrQueueFull = errors.New("request queue is full")

	// ErrRequestTimeout is returned when a request waits longer than the queue timeout
	ErrRequestTimeout = errors.New("request timeout exceeded")
)

// RequestQueue bounds the number of recognitions in flight and the number
// of submissions waiting for a slot.
type RequestQueue struct {
	maxConcurrent int64         // 0 = unlimited
	maxQueueSize  int64         // 0 = unlimited
	timeout       time.Duration // max wait for a slot, 0 = wait for ctx

	sem chan struct{}

	currentActive  atomic.Int64
	currentQueued  atomic.Int64
	totalProcessed atomic.Int64
	totalRejected  atomic.Int64
	totalTimedOut  atomic.Int64

	logger *zap.Logger
}

// RequestQueueConfig holds configuration for the request queue
type RequestQueueConfig struct {
	MaxConcurrentRequests int           // 0 = unlimited
	MaxQueueSize          int           // 0 = unlimited (only when MaxConcurrent > 0)
	RequestTimeout        time.Duration // 0 = no timeout
}

// NewRequestQueue creates a new request queue with the given configuration
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &RequestQueue{
		maxConcurrent: int64(config.MaxConcurrentRequests),
		maxQueueSize:  int64(config.MaxQueueSize),
		timeout:       config.RequestTimeout,
		logger:        logger,
	}

	if config.MaxConcurrentRequests > 0 {
		q.sem = make(chan struct{}, config.MaxConcurrentRequests)
		logger.Info("Request queue initialized",
			zap.Int("max_concurrent", config.MaxConcurrentRequests),
			zap.Int("max_queue_size", config.MaxQueueSize),
			zap.Duration("timeout", config.RequestTimeout))
	} else {
		logger.Info("Request queue disabled (unlimited concurrency)")
	}

	return q
}

// Acquire waits for a processing slot. The returned release func must be
// called exactly once when the request is done.
func (q *RequestQueue) Acquire(ctx context.Context) (release func(), err error) {
	defer func() { UpdateQueueMetrics(q.Stats()) }()

	if q.sem == nil {
		q.currentActive.Add(1)
		return func() {
			q.currentActive.Add(-1)
			q.totalProcessed.Add(1)
			UpdateQueueMetrics(q.Stats())
		}, nil
	}

	select {
	case q.sem <- struct{}{}:
		q.currentActive.Add(1)
		RecordQueueWaitTime(0)
		return q.makeRelease(), nil
	default:
	}

	// Reserve a queue position with CAS so concurrent callers cannot all
	// pass the capacity check before any of them increments.
	if q.maxQueueSize > 0 {
		for {
			queued := q.currentQueued.Load()
			if queued >= q.maxQueueSize {
				q.totalRejected.Add(1)
				RecordQueueRejection()
				q.logger.Warn("Request rejected: queue full",
					zap.Int64("queued", queued),
					zap.Int64("max_queue", q.maxQueueSize))
				return nil, ErrQueueFull
			}
			if q.currentQueued.CompareAndSwap(queued, queued+1) {
				break
			}
		}
	} else {
		q.currentQueued.Add(1)
	}
	queueStart := time.Now()
	UpdateQueueMetrics(q.Stats())

	q.logger.Debug("Request queued",
		zap.Int64("queue_depth", q.currentQueued.Load()))

	var expired <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case q.sem <- struct{}{}:
		q.currentQueued.Add(-1)
		q.currentActive.Add(1)
		wait := time.Since(queueStart)
		RecordQueueWaitTime(wait.Seconds())
		q.logger.Debug("Request dequeued", zap.Duration("wait_time", wait))
		return q.makeRelease(), nil

	case <-expired:
		q.currentQueued.Add(-1)
		q.totalTimedOut.Add(1)
		RecordQueueTimeout()
		q.logger.Warn("Request timed out in queue",
			zap.Duration("wait_time", time.Since(queueStart)),
			zap.Duration("timeout", q.timeout))
		return nil, ErrRequestTimeout

	case <-ctx.Done():
		q.currentQueued.Add(-1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			q.totalTimedOut.Add(1)
			RecordQueueTimeout()
			return nil, ErrRequestTimeout
		}
		return nil, ctx.Err()
	}
}

func (q *RequestQueue) makeRelease() func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		q.currentActive.Add(-1)
		q.totalProcessed.Add(1)
		<-q.sem
		UpdateQueueMetrics(q.Stats())
	}
}

// Stats returns current queue statistics
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentActive:  q.currentActive.Load(),
		CurrentQueued:  q.currentQueued.Load(),
		TotalProcessed: q.totalProcessed.Load(),
		TotalRejected:  q.totalRejected.Load(),
		TotalTimedOut:  q.totalTimedOut.Load(),
		MaxConcurrent:  q.maxConcurrent,
		MaxQueueSize:   q.maxQueueSize,
	}
}

// QueueStats holds queue statistics
type QueueStats struct {
	CurrentActive  int64 `json:"current_active"`
	CurrentQueued  int64 `json:"current_queued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalRejected  int64 `json:"total_rejected"`
	TotalTimedOut  int64 `json:"total_timed_out"`
	MaxConcurrent  int64 `json:"max_concurrent"`
	MaxQueueSize   int64 `json:"max_queue_size"`
}

// IsEnabled returns true if request queuing is enabled
func (q *RequestQueue) IsEnabled() bool {
	return q.sem != nil
}

// queuedRecognizer holds a queue slot for the length of each model call.
// Submissions without an image never reach the model and skip the queue.
type queuedRecognizer struct {
	recognizer Recognizer
	queue      *RequestQueue
}

func (q queuedRecognizer) Recognize(ctx context.Context, src *preprocess.Source, task string) (string, error) {
	if src == nil || src.Image == nil {
		return q.recognizer.Recognize(ctx, src, task)
	}

	release, err := q.queue.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	return q.recognizer.Recognize(ctx, src, task)
}

// WriteQueueFullResponse writes a 503 response with Retry-After header
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	writeJSONError(w, http.StatusServiceUnavailable, "service overloaded, please retry later")
}

// WriteTimeoutResponse writes a 504 response
func WriteTimeoutResponse(w http.ResponseWriter) {
	writeJSONError(w, http.StatusGatewayTimeout, ErrRequestTimeout.Error())
}
