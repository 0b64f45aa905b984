package progressui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"

	"arduflash/operation"
)

const (
	animateEvery = 120 * time.Millisecond
	busyHint     = "Transfer in progress, it cannot be interrupted."
	dismissHint  = "Press Enter to close"
)

// Screen is a full terminal modal progress view. It offers no way out while
// an operation runs: quit keys only show a hint. Once the terminal event has
// been drawn, WaitDismiss blocks until the user acknowledges it.
//
// Observer methods may be called from any goroutine; drawing is serialized.
type Screen struct {
	s    tcell.Screen
	log  zerolog.Logger
	stop chan struct{}
	once sync.Once

	mu      sync.Mutex
	st      *State
	tick    int
	hint    string
	dismiss chan struct{}
	closed  bool
}

// NewScreen takes over the terminal.
func NewScreen(log zerolog.Logger) (*Screen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewScreenOn(s, log)
}

// NewScreenOn runs the view on an existing tcell screen, which it
// initializes and owns from then on.
func NewScreenOn(s tcell.Screen, log zerolog.Logger) (*Screen, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	sc := &Screen{
		s:       s,
		log:     log,
		stop:    make(chan struct{}),
		st:      NewState("", true),
		dismiss: make(chan struct{}),
	}
	go sc.eventLoop()
	go sc.animate()
	return sc, nil
}

// Begin resets the view for a new operation and returns the screen as its
// observer.
func (sc *Screen) Begin(title string, simple bool) *Screen {
	sc.mu.Lock()
	sc.st = NewState(title, simple)
	sc.hint = ""
	sc.dismiss = make(chan struct{})
	sc.mu.Unlock()
	sc.draw()
	return sc
}

// State returns the current presentation model.
func (sc *Screen) State() State {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return *sc.st
}

// WaitDismiss blocks until the user closes a finished view. Simple views
// close themselves and return at once.
func (sc *Screen) WaitDismiss() {
	sc.mu.Lock()
	done, simple, ch := sc.st.Done, sc.st.Simple, sc.dismiss
	sc.mu.Unlock()
	if !done || simple {
		return
	}
	select {
	case <-ch:
	case <-sc.stop:
	}
}

// Close restores the terminal.
func (sc *Screen) Close() {
	sc.once.Do(func() {
		close(sc.stop)
		sc.mu.Lock()
		sc.closed = true
		sc.mu.Unlock()
		_ = sc.s.PostEvent(tcell.NewEventInterrupt(nil))
		sc.s.Fini()
		fmt.Print("\033[?1049l\033[?25h")
	})
}

// OnProgress moves the bar and redraws.
func (sc *Screen) OnProgress(current, total int) {
	sc.mu.Lock()
	sc.st.progress(current, total)
	sc.mu.Unlock()
	sc.draw()
}

// OnStatus replaces the status line.
func (sc *Screen) OnStatus(text string) {
	sc.mu.Lock()
	sc.st.Status = text
	sc.mu.Unlock()
	sc.draw()
}

// OnDevice fills in the device line. Simple views have none and only log
// a warning.
func (sc *Screen) OnDevice(identity string) {
	sc.mu.Lock()
	ok := sc.st.device(identity)
	sc.mu.Unlock()
	if !ok {
		sc.log.Warn().Str("device", identity).Msg("device reported to a simple progress view, ignoring")
		return
	}
	sc.draw()
}

// OnComplete shows the result and, outside simple mode, the dismiss prompt.
func (sc *Screen) OnComplete(o operation.Outcome) {
	sc.mu.Lock()
	sc.st.complete(o)
	sc.hint = ""
	sc.mu.Unlock()
	sc.draw()
}

/* ===================== Drawing ===================== */

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		if pos < 0 {
			continue
		}
		s.SetContent(pos, y, r, nil, style)
	}
}

func header(s tcell.Screen, y, w int, fill, label string) {
	putStr(s, 0, y, strings.Repeat(fill, w), tcell.StyleDefault)
	putStr(s, 2, y, " "+label+" ", tcell.StyleDefault)
}

func (sc *Screen) draw() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}

	s := sc.s
	st := sc.st
	s.Clear()
	w, h := s.Size()
	y := 0
	line := func(text string, style tcell.Style) {
		if y < h {
			putStr(s, 0, y, text, style)
		}
		y++
	}

	if st.Title != "" {
		putStr(s, 0, y, strings.Repeat("═", w), tcell.StyleDefault)
		putStr(s, (w-len([]rune(st.Title)))/2, y, " "+st.Title+" ", tcell.StyleDefault.Bold(true))
		y++
	}

	if !st.Simple {
		line(st.Device, tcell.StyleDefault.Dim(true))
	}

	header(s, y, w, "─", "Status")
	y++
	statusStyle := tcell.StyleDefault
	if st.Done && st.Failed {
		statusStyle = statusStyle.Foreground(tcell.ColorRed).Bold(true)
	} else if st.Done {
		statusStyle = statusStyle.Foreground(tcell.ColorGreen).Bold(true)
	}
	line(st.Status, statusStyle)
	if st.Err != nil {
		line(st.Err.Error(), tcell.StyleDefault.Foreground(tcell.ColorRed))
	}

	barWidth := w - 16
	if barWidth > 60 {
		barWidth = 60
	}
	line(st.Bar(barWidth, sc.tick)+" "+st.Counter(), tcell.StyleDefault)
	y++

	switch {
	case sc.hint != "":
		line(sc.hint, tcell.StyleDefault.Foreground(tcell.ColorYellow))
	case st.Done && !st.Simple:
		line(dismissHint, tcell.StyleDefault.Dim(true))
	}

	s.Show()
}

/* ===================== Input ===================== */

func (sc *Screen) eventLoop() {
	for {
		ev := sc.s.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			sc.key(ev)
		case *tcell.EventResize:
			sc.s.Sync()
			sc.draw()
		case *tcell.EventInterrupt:
			select {
			case <-sc.stop:
				return
			default:
			}
		case nil:
			return
		}
	}
}

func (sc *Screen) key(ev *tcell.EventKey) {
	quit := ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape ||
		(ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'))
	accept := quit || ev.Key() == tcell.KeyEnter ||
		(ev.Key() == tcell.KeyRune && ev.Rune() == ' ')

	sc.mu.Lock()
	done := sc.st.Done
	if !done && quit {
		sc.hint = busyHint
	}
	ch := sc.dismiss
	sc.mu.Unlock()

	if done && accept {
		select {
		case <-ch:
		default:
			close(ch)
		}
		return
	}
	if quit {
		sc.draw()
	}
}

// animate redraws indeterminate bars.
func (sc *Screen) animate() {
	t := time.NewTicker(animateEvery)
	defer t.Stop()
	for {
		select {
		case <-sc.stop:
			return
		case <-t.C:
			sc.mu.Lock()
			busy := sc.st.Indeterminate() && sc.st.Title != ""
			if busy {
				sc.tick++
			}
			sc.mu.Unlock()
			if busy {
				sc.draw()
			}
		}
	}
}
