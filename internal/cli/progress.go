package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/davidthor/tok/pkg/engine"
)

// Stage status icons
const (
	iconRunning = "◐"
	iconDone    = "●"
)

// progressPrinter writes one line per pipeline stage transition. It stays
// quiet unless stderr is a terminal or --verbose is set.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	started map[engine.Stage]time.Time
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{
		w:       w,
		enabled: verbose || isTerminal(w),
		started: make(map[engine.Stage]time.Time),
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Handle is an engine.ProgressCallback.
func (p *progressPrinter) Handle(event engine.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	if !event.Done {
		p.started[event.Stage] = time.Now()
		fmt.Fprintf(p.w, "  %s %-10s %s\n", iconRunning, event.Stage, event.Detail)
		return
	}

	elapsed := ""
	if start, ok := p.started[event.Stage]; ok {
		elapsed = fmt.Sprintf("(%s)", time.Since(start).Round(time.Millisecond))
	}
	fmt.Fprintf(p.w, "  %s %-10s %s %s\n", iconDone, event.Stage, event.Detail, elapsed)
}

// Summary prints the closing line of a run.
func (p *progressPrinter) Summary(topics int, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	fmt.Fprintf(p.w, "\nOrdered %d topics in %s\n", topics, duration.Round(time.Millisecond))
}
