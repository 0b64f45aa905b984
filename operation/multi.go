package operation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"arduflash/device"
)

// DeviceOutcome is the result of one device in multi-device mode.
type DeviceOutcome struct {
	Identity string
	Port     string
	Err      error
}

// Success reports whether the device completed.
func (o DeviceOutcome) Success() bool {
	return o.Err == nil
}

// MultiRunner runs the same device-bound operation once per attached device,
// sequentially, in the order the locator returned them.
type MultiRunner struct {
	Locator Locator
	Exec    *Executor
	Log     zerolog.Logger

	// ContinueOnFailure keeps processing the remaining devices after a
	// failure. When false, the remaining devices are reported as ErrSkipped.
	ContinueOnFailure bool
}

// NewMultiRunner creates a runner that continues past failures.
func NewMultiRunner(locator Locator, exec *Executor, log zerolog.Logger) *MultiRunner {
	return &MultiRunner{
		Locator:           locator,
		Exec:              exec,
		Log:               log,
		ContinueOnFailure: true,
	}
}

// Run resolves every attached device and runs op on each. newObserver is
// called once per device, before its run starts. The returned slice has one
// entry per device in candidate order. The error is non-nil only when the
// devices could not be resolved at all.
func (m *MultiRunner) Run(ctx context.Context, op DeviceBound, newObserver func(h device.Handle) Observer) ([]DeviceOutcome, error) {
	handles, err := m.Locator.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	m.Log.Info().Int("devices", len(handles)).Msg("multi-device run")

	outcomes := make([]DeviceOutcome, 0, len(handles))
	stop := false
	for i, h := range handles {
		out := DeviceOutcome{Identity: h.DisplayName(), Port: h.Port}
		if stop {
			out.Err = ErrSkipped
			outcomes = append(outcomes, out)
			continue
		}

		out.Err = m.Exec.RunOn(ctx, h, op, newObserver(h))
		outcomes = append(outcomes, out)

		if out.Err != nil {
			m.Log.Error().Err(out.Err).Int("index", i).Str("port", h.Port).Msg("device failed")
			if !m.ContinueOnFailure {
				stop = true
			}
		}
	}
	return outcomes, nil
}

// Failed counts the outcomes that did not complete, skipped ones included.
func Failed(outcomes []DeviceOutcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Success() {
			n++
		}
	}
	return n
}

// Summary renders one line per device plus a totals line.
func Summary(outcomes []DeviceOutcome) string {
	var b strings.Builder
	for i, o := range outcomes {
		result := "Complete"
		if o.Err != nil {
			result = "Failed: " + o.Err.Error()
		}
		fmt.Fprintf(&b, "  [%d] %s: %s\n", i+1, o.Identity, result)
	}
	fmt.Fprintf(&b, "%d of %d devices completed\n", len(outcomes)-Failed(outcomes), len(outcomes))
	return b.String()
}
