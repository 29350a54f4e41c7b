package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/models"
)

// Write side of the call log, implemented by repository.CallLogRepository
type CallLogWriter interface {
	CreateBatch(ctx context.Context, logs []*models.CallLog) error
}

// Buffers call log entries and inserts them in batches from a single
// background goroutine. Record never blocks the request path.
type CallRecorder struct {
	writer        CallLogWriter
	entries       chan *models.CallLog
	batchSize     int
	flushInterval time.Duration
	dropped       atomic.Int64
	started       atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewCallRecorder(writer CallLogWriter, bufferSize, batchSize int, flushInterval time.Duration) *CallRecorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &CallRecorder{
		writer:        writer,
		entries:       make(chan *models.CallLog, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Starts the background worker
func (r *CallRecorder) Start() {
	if r.started.CompareAndSwap(false, true) {
		go r.run()
	}
}

// Queues an entry, dropping it when the buffer is full
func (r *CallRecorder) Record(entry *models.CallLog) {
	select {
	case r.entries <- entry:
	default:
		if r.dropped.Add(1)%100 == 1 {
			log.Printf("Call log buffer full, %d entries dropped so far", r.dropped.Load())
		}
	}
}

func (r *CallRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Flushes pending entries and stops the worker. Waits until ctx is done at most.
func (r *CallRecorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	if !r.started.Load() {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *CallRecorder) run() {
	defer close(r.done)

	batch := make([]*models.CallLog, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.writer.CreateBatch(context.Background(), batch); err != nil {
			log.Printf("Failed to insert %d call logs: %v", len(batch), err)
		}
		batch = make([]*models.CallLog, 0, r.batchSize)
	}

	for {
		select {
		case entry := <-r.entries:
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			// Drain what is already queued
			for {
				select {
				case entry := <-r.entries:
					batch = append(batch, entry)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
