// Package progressui renders operation progress, either as a modal terminal
// view or as plain lines for pipes and logs. Both implement
// operation.Observer.
package progressui

import (
	"fmt"
	"strings"

	"arduflash/operation"
)

// Initial status texts.
const (
	StatusWaiting    = "Waiting..."
	StatusPleaseWait = "Please wait..."
	unknownDevice    = "~"
)

// State is the presentation model shared by both renderers. It is not safe
// for concurrent use; the renderers guard it.
type State struct {
	Title  string
	Simple bool

	Device string
	Status string

	Current int
	Total   int

	Done   bool
	Failed bool
	Err    error
}

// NewState returns the state shown before the first event.
func NewState(title string, simple bool) *State {
	st := &State{Title: title, Simple: simple, Device: unknownDevice, Status: StatusWaiting}
	if simple {
		st.Status = StatusPleaseWait
	}
	return st
}

// Indeterminate reports whether no total is known.
func (st *State) Indeterminate() bool {
	return !st.Done && st.Total == 0
}

// Percent returns the bar position. A finished run shows 100 on success and
// 0 on failure.
func (st *State) Percent() int {
	switch {
	case st.Done && st.Failed:
		return 0
	case st.Done:
		return 100
	case st.Total <= 0:
		return 0
	}
	return st.Current * 100 / st.Total
}

// Result is the terminal line, e.g. "Flash firmware: Complete!".
func (st *State) Result() string {
	if !st.Done {
		return ""
	}
	result := "Complete"
	if st.Failed {
		result = "Failed"
	}
	return fmt.Sprintf("%s: %s!", st.Title, result)
}

func (st *State) progress(current, total int) {
	st.Current = current
	st.Total = total
}

// device sets the identity line and reports false in simple mode, which has
// no device line.
func (st *State) device(identity string) bool {
	if st.Simple {
		return false
	}
	st.Device = identity
	return true
}

func (st *State) complete(o operation.Outcome) {
	st.Done = true
	st.Failed = !o.Success()
	st.Err = o.Err
	st.Status = st.Result()
}

// Bar renders a progress bar width cells wide. tick animates the
// indeterminate bar.
func (st *State) Bar(width, tick int) string {
	if width < 3 {
		width = 3
	}
	inner := width - 2
	var b strings.Builder
	b.WriteByte('[')
	if st.Indeterminate() {
		const runner = 4
		span := inner - runner
		if span < 1 {
			span = 1
		}
		pos := tick % (2 * span)
		if pos >= span {
			pos = 2*span - pos
		}
		for i := 0; i < inner; i++ {
			if i >= pos && i < pos+runner {
				b.WriteRune('█')
			} else {
				b.WriteRune('░')
			}
		}
	} else {
		filled := st.Percent() * inner / 100
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", inner-filled))
	}
	b.WriteByte(']')
	return b.String()
}

// Counter renders "45%  115/256", or "" while indeterminate.
func (st *State) Counter() string {
	if st.Indeterminate() {
		return ""
	}
	if st.Done || st.Total == 0 {
		return fmt.Sprintf("%3d%%", st.Percent())
	}
	return fmt.Sprintf("%3d%%  %d/%d", st.Percent(), st.Current, st.Total)
}
