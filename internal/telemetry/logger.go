// Package telemetry is the process-wide log sink and screening counter board.
// Writes are enqueued to a single drain goroutine so validation paths never
// block on stdout; a bounded ring keeps recent history for the guardian bot's
// /tail command and the status endpoint.
package telemetry

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 2000 // lines of history kept for Tail

var (
	enableDebug atomic.Bool
	enableTrace atomic.Bool

	logCh     chan entry
	startOnce sync.Once
	stopOnce  sync.Once
	drained   chan struct{}
	startedAt time.Time

	ringMu      sync.Mutex
	ring        []entry
	ringNext    int
	ringWrapped bool
)

type entry struct {
	at      time.Time
	level   string
	message string
}

// Start spins up the drain goroutine. Safe to call more than once.
func Start() {
	startOnce.Do(func() {
		logCh = make(chan entry, 8192)
		drained = make(chan struct{})
		ring = make([]entry, ringSize)
		startedAt = time.Now()

		go drain()
	})
}

// Stop closes the queue and waits for buffered entries to flush. Logging
// after Stop is a programming error.
func Stop() {
	stopOnce.Do(func() {
		if logCh == nil {
			return
		}
		close(logCh)
		<-drained
	})
}

// Uptime reports time since Start.
func Uptime() time.Duration {
	if startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt)
}

func drain() {
	defer close(drained)
	for e := range logCh {
		ringMu.Lock()
		ring[ringNext] = e
		ringNext = (ringNext + 1) % ringSize
		if ringNext == 0 {
			ringWrapped = true
		}
		ringMu.Unlock()

		fmt.Printf("%s [%s] %s\n",
			e.at.Format("2006/01/02 15:04:05.000"),
			e.level,
			e.message)
	}
}

func EnableDebug(on bool) { enableDebug.Store(on) }
func DebugOn() bool       { return enableDebug.Load() }

func EnableTrace(on bool) { enableTrace.Store(on) }
func TraceOn() bool       { return enableTrace.Load() }

// Non-blocking enqueue; drops when saturated rather than stalling a screen.
func enqueue(level, message string) {
	e := entry{at: time.Now(), level: level, message: message}
	select {
	case logCh <- e:
	default:
		fmt.Fprintf(os.Stderr, "telemetry: buffer full, dropping: %s\n", message)
	}
}

// INFO is always on (use sparingly on hot path).
func Infof(format string, args ...any) {
	enqueue("INFO", fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	enqueue("WARN", fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	enqueue("ERROR", fmt.Sprintf(format, args...))
}

// DEBUG only formats if enabled (zero cost when off).
func Debugf(format string, args ...any) {
	if !enableDebug.Load() {
		return
	}
	enqueue("DEBUG", fmt.Sprintf(format, args...))
}

// TRACE is for per-word decode noise; off by default.
func Tracef(format string, args ...any) {
	if !enableTrace.Load() {
		return
	}
	enqueue("TRACE", fmt.Sprintf(format, args...))
}

// Tail returns up to n most recent lines in chronological order.
func Tail(n int) []string {
	if n <= 0 {
		return nil
	}
	if n > ringSize {
		n = ringSize
	}
	ringMu.Lock()
	defer ringMu.Unlock()

	available := ringNext
	if ringWrapped {
		available = ringSize
	}
	if available == 0 {
		return nil
	}
	if n > available {
		n = available
	}

	out := make([]string, 0, n)
	for i := n; i > 0; i-- {
		idx := ((ringNext - i) % ringSize + ringSize) % ringSize
		e := ring[idx]
		out = append(out, fmt.Sprintf("%s [%s] %s",
			e.at.Format("15:04:05.000"),
			e.level,
			e.message))
	}
	return out
}
