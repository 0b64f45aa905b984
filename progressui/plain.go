package progressui

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"arduflash/operation"
)

// plainStep is the percentage step between two progress lines.
const plainStep = 10

// Plain writes one line per status change and per plainStep percent of
// progress. It is used when stdout is not a terminal.
type Plain struct {
	mu      sync.Mutex
	w       io.Writer
	st      *State
	log     zerolog.Logger
	lastPct int
}

// NewPlain creates a plain observer writing to w.
func NewPlain(w io.Writer, title string, simple bool, log zerolog.Logger) *Plain {
	return &Plain{w: w, st: NewState(title, simple), log: log, lastPct: -1}
}

// State returns the current presentation model.
func (p *Plain) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.st
}

// OnProgress prints a counter line each time another plainStep percent is
// reached. Indeterminate progress prints nothing.
func (p *Plain) OnProgress(current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st.progress(current, total)
	if p.st.Indeterminate() {
		return
	}
	bucket := p.st.Percent() / plainStep * plainStep
	if bucket <= p.lastPct {
		return
	}
	p.lastPct = bucket
	fmt.Fprintf(p.w, "%s: %s\n", p.st.Title, p.st.Counter())
}

// OnStatus prints the status prefixed with the title.
func (p *Plain) OnStatus(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st.Status = text
	fmt.Fprintf(p.w, "%s: %s\n", p.st.Title, text)
}

// OnDevice prints the device identity. Simple views ignore it.
func (p *Plain) OnDevice(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.st.device(identity) {
		p.log.Warn().Str("device", identity).Msg("device reported to a simple progress view, ignoring")
		return
	}
	fmt.Fprintf(p.w, "%s: device %s\n", p.st.Title, identity)
}

// OnComplete prints the result line followed by the error, if any.
func (p *Plain) OnComplete(o operation.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st.complete(o)
	fmt.Fprintln(p.w, p.st.Result())
	if o.Err != nil {
		fmt.Fprintf(p.w, "  error: %v\n", o.Err)
	}
}
