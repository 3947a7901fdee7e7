package logging

import (
	"log/slog"
	"sync"
	"time"
)

type aggregateKey struct {
	component string
	event     string
}

type aggregateEntry struct {
	count     int64
	firstSeen time.Time
	fields    []slog.Attr
}

// Aggregator counts repetitive events (hook signals, poll wakeups) and
// emits one event_summary record per event type each interval.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries map[aggregateKey]*aggregateEntry

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator creates an aggregator that flushes every intervalSecs.
// A nil logger drops everything it records.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 60
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		entries:  make(map[aggregateKey]*aggregateEntry),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop ends the flush loop and writes whatever is pending. Safe to call twice.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.flush()
	})
}

// Record counts one occurrence. The latest non-empty fields are reported.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := aggregateKey{component: component, event: event}
	entry, ok := a.entries[key]
	if !ok {
		entry = &aggregateEntry{firstSeen: time.Now()}
		a.entries[key] = entry
	}
	entry.count++
	if len(fields) > 0 {
		entry.fields = fields
	}
}

// Pending returns the unflushed count for one event type.
func (a *Aggregator) Pending(component, event string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.entries[aggregateKey{component: component, event: event}]; ok {
		return entry.count
	}
	return 0
}

func (a *Aggregator) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.entries) == 0 {
		a.mu.Unlock()
		return
	}
	entries := a.entries
	a.entries = make(map[aggregateKey]*aggregateEntry)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}
	for key, entry := range entries {
		attrs := []any{
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", entry.count),
			slog.Time("first_seen", entry.firstSeen),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range entry.fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
