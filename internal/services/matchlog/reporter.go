package matchlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

const (
	DefaultBufferSize  = 64
	DefaultSendTimeout = 10 * time.Second
	maxSeenPairs       = 1024
)

// Reporter queues fuzzy-match events on the device and delivers them from a
// single background goroutine. Report never blocks: when the queue is full
// or delivery fails the event is dropped. Domain names are never logged.
type Reporter struct {
	sink    ports.MatchLogSink
	logger  *zap.Logger
	timeout time.Duration
	queue   chan domain.MatchLogRequest

	mu      sync.Mutex
	seenDay string
	seen    map[string]struct{}

	dropped atomic.Int64
	sent    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewReporter(sink ports.MatchLogSink, logger *zap.Logger, bufferSize int) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &Reporter{
		sink:    sink,
		logger:  logger,
		timeout: DefaultSendTimeout,
		queue:   make(chan domain.MatchLogRequest, bufferSize),
		seen:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Report enqueues one event. The same near-miss is reported at most once per
// UTC day, since a single page view is evaluated for several actions.
func (r *Reporter) Report(e domain.FuzzyMatchLogEntry) {
	if r.duplicate(e) {
		return
	}
	req := domain.MatchLogRequest{
		InputDomain:   e.InputDomain,
		MatchedDomain: e.MatchedDomain,
		Distance:      e.Distance,
		DeviceType:    e.DeviceType,
	}
	select {
	case <-r.done:
		r.dropped.Add(1)
	case r.queue <- req:
	default:
		r.dropped.Add(1)
	}
}

func (r *Reporter) duplicate(e domain.FuzzyMatchLogEntry) bool {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	day := ts.UTC().Format(time.DateOnly)
	key := e.InputDomain + "|" + e.MatchedDomain

	r.mu.Lock()
	defer r.mu.Unlock()
	if day != r.seenDay || len(r.seen) >= maxSeenPairs {
		r.seenDay = day
		r.seen = make(map[string]struct{})
	}
	if _, ok := r.seen[key]; ok {
		return true
	}
	r.seen[key] = struct{}{}
	return false
}

func (r *Reporter) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case req := <-r.queue:
			r.send(req)
		}
	}
}

func (r *Reporter) send(req domain.MatchLogRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, req); err != nil {
		r.dropped.Add(1)
		r.logger.Debug("fuzzy match log not delivered", zap.Int64("dropped_total", r.dropped.Load()))
		return
	}
	r.sent.Add(1)
}

// Stats returns delivered and dropped counts since start.
func (r *Reporter) Stats() (sent, dropped int64) { return r.sent.Load(), r.dropped.Load() }

// Close stops the sender. Events still queued are discarded.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}
