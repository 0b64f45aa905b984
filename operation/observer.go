package operation

// Observer is implemented by the presentation layer. All methods are called
// from the goroutine that invoked Executor.Run, never concurrently.
type Observer interface {
	OnProgress(current, total int)
	OnStatus(text string)
	// OnDevice is only called for device-bound runs, after the target is
	// resolved and before the operation starts.
	OnDevice(identity string)
	// OnComplete is called exactly once, last.
	OnComplete(o Outcome)
}

// Outcome is the terminal event of a run.
type Outcome struct {
	Err error
}

// Success reports whether the run completed.
func (o Outcome) Success() bool {
	return o.Err == nil
}

func (o Outcome) String() string {
	if o.Err == nil {
		return "Complete"
	}
	return "Failed"
}

// ObserverFuncs adapts plain functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(current, total int)
	Status   func(text string)
	Device   func(identity string)
	Complete func(o Outcome)
}

func (f ObserverFuncs) OnProgress(current, total int) {
	if f.Progress != nil {
		f.Progress(current, total)
	}
}

func (f ObserverFuncs) OnStatus(text string) {
	if f.Status != nil {
		f.Status(text)
	}
}

func (f ObserverFuncs) OnDevice(identity string) {
	if f.Device != nil {
		f.Device(identity)
	}
}

func (f ObserverFuncs) OnComplete(o Outcome) {
	if f.Complete != nil {
		f.Complete(o)
	}
}
