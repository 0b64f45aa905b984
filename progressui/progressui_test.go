package progressui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"

	"arduflash/operation"
)

func TestStateInitial(t *testing.T) {
	tests := []struct {
		simple     bool
		wantStatus string
	}{
		{false, StatusWaiting},
		{true, StatusPleaseWait},
	}
	for _, tt := range tests {
		st := NewState("Flash", tt.simple)
		if st.Status != tt.wantStatus {
			t.Errorf("simple=%v: status = %q, want %q", tt.simple, st.Status, tt.wantStatus)
		}
		if st.Device != "~" {
			t.Errorf("simple=%v: device = %q, want ~", tt.simple, st.Device)
		}
		if !st.Indeterminate() {
			t.Errorf("simple=%v: initial state should be indeterminate", tt.simple)
		}
	}
}

func TestStatePercentAndResult(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		total       int
		outcome     *operation.Outcome
		wantPercent int
		wantResult  string
	}{
		{"halfway", 128, 256, nil, 50, ""},
		{"indeterminate", 0, 0, nil, 0, ""},
		{"complete", 10, 256, &operation.Outcome{}, 100, "Flash: Complete!"},
		{"failed", 200, 256, &operation.Outcome{Err: errors.New("boom")}, 0, "Flash: Failed!"},
	}
	for _, tt := range tests {
		st := NewState("Flash", false)
		st.progress(tt.current, tt.total)
		if tt.outcome != nil {
			st.complete(*tt.outcome)
		}
		if got := st.Percent(); got != tt.wantPercent {
			t.Errorf("%s: Percent() = %d, want %d", tt.name, got, tt.wantPercent)
		}
		if got := st.Result(); got != tt.wantResult {
			t.Errorf("%s: Result() = %q, want %q", tt.name, got, tt.wantResult)
		}
	}
}

func TestStateSimpleIgnoresDevice(t *testing.T) {
	st := NewState("Load", true)
	if st.device("Arduboy") {
		t.Error("simple state accepted a device")
	}
	if st.Device != "~" {
		t.Errorf("device = %q", st.Device)
	}
}

func TestBar(t *testing.T) {
	st := NewState("Flash", false)
	st.progress(1, 2)
	bar := st.Bar(12, 0)
	if bar != "[█████░░░░░]" {
		t.Errorf("Bar() = %q", bar)
	}

	st = NewState("Flash", false)
	a, b := st.Bar(20, 0), st.Bar(20, 3)
	if a == b {
		t.Error("indeterminate bar does not move")
	}
	if len([]rune(a)) != 20 || len([]rune(b)) != 20 {
		t.Errorf("indeterminate bar width = %d/%d, want 20", len([]rune(a)), len([]rune(b)))
	}
}

func TestPlain(t *testing.T) {
	var out bytes.Buffer
	p := NewPlain(&out, "Flash firmware", false, zerolog.Nop())

	p.OnStatus("Waiting for bootloader...")
	p.OnDevice("Arduboy on /dev/ttyACM0")
	for i := 0; i <= 256; i++ {
		p.OnProgress(i, 256)
	}
	p.OnComplete(operation.Outcome{})

	text := out.String()
	for _, want := range []string{
		"Flash firmware: Waiting for bootloader...",
		"Flash firmware: device Arduboy on /dev/ttyACM0",
		"Flash firmware:   0%  0/256",
		"Flash firmware:  50%  128/256",
		"Flash firmware: 100%  256/256",
		"Flash firmware: Complete!",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if n := strings.Count(text, "%"); n != 11 {
		t.Errorf("%d progress lines, want 11 (every 10%%):\n%s", n, text)
	}
}

func TestPlainFailure(t *testing.T) {
	var out bytes.Buffer
	p := NewPlain(&out, "Backup", false, zerolog.Nop())
	p.OnComplete(operation.Outcome{Err: errors.New("transport error on COM3")})

	if !strings.Contains(out.String(), "Backup: Failed!\n  error: transport error on COM3") {
		t.Errorf("output = %q", out.String())
	}
	if st := p.State(); !st.Done || !st.Failed || st.Percent() != 0 {
		t.Errorf("state = %+v", st)
	}
}

/* ===================== Screen ===================== */

func newSimScreen(t *testing.T) (*Screen, tcell.SimulationScreen) {
	t.Helper()
	sim := tcell.NewSimulationScreen("UTF-8")
	sc, err := NewScreenOn(sim, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScreenOn() error = %v", err)
	}
	sim.SetSize(80, 12)
	t.Cleanup(sc.Close)
	return sc, sim
}

func screenText(sim tcell.SimulationScreen) string {
	cells, w, _ := sim.GetContents()
	var b strings.Builder
	for i, c := range cells {
		if len(c.Runes) > 0 {
			b.WriteRune(c.Runes[0])
		} else {
			b.WriteByte(' ')
		}
		if (i+1)%w == 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScreenRendersRun(t *testing.T) {
	sc, sim := newSimScreen(t)
	obs := sc.Begin("Flash firmware", false)

	if text := screenText(sim); !strings.Contains(text, "Waiting...") || !strings.Contains(text, "~") {
		t.Errorf("initial screen:\n%s", text)
	}

	obs.OnStatus("Writing firmware...")
	obs.OnDevice("Arduboy (bootloader) on /dev/ttyACM0")
	obs.OnProgress(128, 256)

	text := screenText(sim)
	for _, want := range []string{"Flash firmware", "Arduboy (bootloader) on /dev/ttyACM0", "Writing firmware...", "50%"} {
		if !strings.Contains(text, want) {
			t.Errorf("screen missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, dismissHint) {
		t.Error("dismiss prompt shown while running")
	}

	obs.OnComplete(operation.Outcome{})
	text = screenText(sim)
	if !strings.Contains(text, "Flash firmware: Complete!") || !strings.Contains(text, "100%") {
		t.Errorf("final screen:\n%s", text)
	}
	if !strings.Contains(text, dismissHint) {
		t.Error("dismiss prompt not shown after completion")
	}
}

func TestScreenCannotBeQuitWhileRunning(t *testing.T) {
	sc, sim := newSimScreen(t)
	sc.Begin("Flash firmware", false)
	sc.OnProgress(1, 10)

	sim.InjectKey(tcell.KeyCtrlC, 0, tcell.ModNone)
	waitFor(t, "busy hint", func() bool {
		return strings.Contains(screenText(sim), busyHint)
	})
	if sc.State().Done {
		t.Fatal("quit key ended the run")
	}

	sc.OnComplete(operation.Outcome{Err: errors.New("verify failed")})
	text := screenText(sim)
	if strings.Contains(text, busyHint) {
		t.Error("busy hint kept after completion")
	}
	if !strings.Contains(text, "Flash firmware: Failed!") || !strings.Contains(text, "verify failed") {
		t.Errorf("final screen:\n%s", text)
	}

	done := make(chan struct{})
	go func() {
		sc.WaitDismiss()
		close(done)
	}()
	sim.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitDismiss() did not return after Enter")
	}
}

func TestScreenSimpleClosesItself(t *testing.T) {
	sc, sim := newSimScreen(t)
	sc.Begin("Loading", true)
	sc.OnDevice("ignored")
	sc.OnComplete(operation.Outcome{})

	if strings.Contains(screenText(sim), "ignored") {
		t.Error("simple view rendered a device")
	}

	done := make(chan struct{})
	go func() {
		sc.WaitDismiss()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simple view waited for dismissal")
	}
}
