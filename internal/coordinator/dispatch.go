package coordinator

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// dispatcher runs submitted work in per-key FIFO lanes: work for one key
// never overlaps, work for different keys runs concurrently. A lane's
// goroutine exits as soon as its queue drains.
type dispatcher struct {
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue []func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{lanes: make(map[string]*lane)}
}

func (d *dispatcher) submit(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lanes[key]; ok {
		l.queue = append(l.queue, fn)
		return
	}
	l := &lane{queue: []func(){fn}}
	d.lanes[key] = l
	d.wg.Add(1)
	go d.drain(key, l)
}

func (d *dispatcher) drain(key string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		d.mu.Unlock()

		runContained(key, fn)
	}
}

// wait blocks until every lane has drained.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

// runContained keeps a panicking event from taking down its lane.
func runContained(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			coordLog.Error("event_panic",
				slog.String("lane", key),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
