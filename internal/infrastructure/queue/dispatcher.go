package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/api/metrics"
	"github.com/styxchat/chat-service/internal/core/ports"
)

const (
	defaultWorkers      = 8
	channelBuffer       = 256
	defaultDrainTimeout = 10 * time.Second
)

// Dispatcher routes pipeline events to a fixed set of workers using consistent
// hashing on the room id, guaranteeing per-room processing order.
type Dispatcher struct {
	workers      []chan ports.PipelineEvent
	done         chan struct{} // closed once no new events are accepted
	stop         sync.Once
	wg           sync.WaitGroup
	drainTimeout time.Duration
	log          zerolog.Logger

	// Set when accepting stops. Events processed from then on run under it.
	drainCtx    context.Context
	drainCancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers:      make([]chan ports.PipelineEvent, numWorkers),
		done:         make(chan struct{}),
		drainTimeout: defaultDrainTimeout,
		log:          log.With().Str("component", "dispatcher").Logger(),
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.PipelineEvent, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines feeding proc. Cancelling ctx stops
// intake and drains the buffers like Close, without blocking the caller.
func (d *Dispatcher) Start(ctx context.Context, proc ports.EventProcessor) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch, proc)
	}
	go func() {
		select {
		case <-ctx.Done():
			d.stopAccepting()
		case <-d.done:
		}
		d.wg.Wait()
		d.drainCancel()
	}()
}

// Close stops accepting events, lets every worker process what is already
// buffered under a fresh context bounded by the drain timeout, and returns
// once all workers have exited.
func (d *Dispatcher) Close() {
	d.stopAccepting()
	d.wg.Wait()
	d.drainCancel()
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) stopAccepting() {
	d.stop.Do(func() {
		d.drainCtx, d.drainCancel = context.WithTimeout(context.Background(), d.drainTimeout)
		close(d.done)
	})
}

// Enqueue sends an event to the worker responsible for its room. It blocks
// while that worker's buffer is full and returns immediately once the
// dispatcher has stopped accepting.
func (d *Dispatcher) Enqueue(ev ports.PipelineEvent) {
	select {
	case <-d.done:
		d.log.Warn().Str("room_id", ev.RoomID).Msg("dispatcher stopped, event dropped")
		return
	default:
	}

	idx := d.shardIndex(ev.RoomID)
	select {
	case d.workers[idx] <- ev:
		metrics.PipelineQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	case <-d.done:
		d.log.Warn().Str("room_id", ev.RoomID).Msg("dispatcher stopped, event dropped")
	}
}

// shardIndex maps a room id deterministically to a worker index.
func (d *Dispatcher) shardIndex(roomID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.PipelineEvent, proc ports.EventProcessor) {
	defer d.wg.Done()
	for {
		// stopping takes priority over buffered work
		select {
		case <-d.done:
			d.drain(id, ch, proc)
			return
		default:
		}
		if ctx.Err() != nil {
			d.stopAccepting()
			d.drain(id, ch, proc)
			return
		}

		select {
		case <-ctx.Done():
			d.stopAccepting()
			d.drain(id, ch, proc)
			return
		case <-d.done:
			d.drain(id, ch, proc)
			return
		case ev := <-ch:
			pctx := ctx
			if ctx.Err() != nil {
				d.stopAccepting()
				pctx = d.drainCtx
			}
			d.process(pctx, id, len(ch), ev, proc)
		}
	}
}

// drain processes the events left in ch under the drain deadline, since the
// worker context may already be cancelled. Events still queued when the
// deadline passes are dropped.
func (d *Dispatcher) drain(id int, ch <-chan ports.PipelineEvent, proc ports.EventProcessor) {
	processed, dropped := 0, 0
	for {
		select {
		case ev := <-ch:
			if d.drainCtx.Err() != nil {
				dropped++
				continue
			}
			d.process(d.drainCtx, id, len(ch), ev, proc)
			processed++
		default:
			if processed+dropped > 0 {
				d.log.Info().
					Int("worker_id", id).
					Int("processed", processed).
					Int("dropped", dropped).
					Msg("worker drained")
			}
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, id, depth int, ev ports.PipelineEvent, proc ports.EventProcessor) {
	metrics.PipelineQueueDepth.WithLabelValues(strconv.Itoa(id)).Set(float64(depth))
	if err := proc.Process(ctx, ev); err != nil {
		d.log.Error().Err(err).
			Str("room_id", ev.RoomID).
			Int("worker_id", id).
			Msg("event processing failed")
	}
}
