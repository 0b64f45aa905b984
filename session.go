package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"arduflash/config"
	"arduflash/device"
	"arduflash/operation"
	"arduflash/progressui"
	"arduflash/transfer"
)

// errFailed marks a run whose failure was already shown to the user.
var errFailed = errors.New("operation failed")

// session holds everything one command invocation needs.
type session struct {
	cfg     *config.Config
	log     zerolog.Logger
	locator *device.Locator
	exec    *operation.Executor

	plain  bool
	multi  bool
	out    io.Writer
	screen *progressui.Screen
}

func newSession(cfg *config.Config, log zerolog.Logger, plain, multi bool) *session {
	loc := device.NewLocator(cfg.Device(), device.WithLogger(log))
	return &session{
		cfg:     cfg,
		log:     log,
		locator: loc,
		exec:    operation.New(loc, operation.WithLogger(log)),
		plain:   plain || !term.IsTerminal(int(os.Stdout.Fd())),
		multi:   multi,
		out:     os.Stdout,
	}
}

func (s *session) options() transfer.Options {
	opts := transfer.DefaultOptions()
	opts.Verify = s.cfg.Verify()
	opts.Log = s.log
	return opts
}

// observer returns the view for the next run. The terminal view is created
// on first use and reused for the rest of the session.
func (s *session) observer(title string, simple bool) (operation.Observer, error) {
	if s.plain {
		return progressui.NewPlain(s.out, title, simple, s.log), nil
	}
	if s.screen == nil {
		sc, err := progressui.NewScreen(s.log)
		if err != nil {
			s.log.Warn().Err(err).Msg("terminal view unavailable, falling back to plain output")
			s.plain = true
			return s.observer(title, simple)
		}
		s.screen = sc
	}
	return s.screen.Begin(title, simple), nil
}

// close restores the terminal and prints the last result line so it stays
// visible after the view is gone.
func (s *session) close(last string) {
	if s.screen == nil {
		return
	}
	s.screen.Close()
	s.screen = nil
	if last != "" {
		fmt.Fprintln(s.out, last)
	}
}

// guardSignals keeps an interrupt from killing the process while a transfer
// is under way. The returned func restores default handling.
func (s *session) guardSignals() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				s.log.Warn().Msg("transfer in progress, it cannot be interrupted")
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// load runs a file loading step in simple mode.
func (s *session) load(ctx context.Context, op operation.Simple) error {
	obs, err := s.observer("Loading", true)
	if err != nil {
		return err
	}
	if err := s.exec.Run(ctx, op, obs); err != nil {
		s.close("Loading: Failed!\n  error: " + err.Error())
		return errFailed
	}
	return nil
}

// run executes op against one device, or against every attached device in
// multi mode.
func (s *session) run(ctx context.Context, title string, op operation.DeviceBound) error {
	defer s.guardSignals()()
	if s.multi {
		return s.runMulti(ctx, title, op)
	}

	obs, err := s.observer(title, false)
	if err != nil {
		return err
	}
	runErr := s.exec.Run(ctx, op, obs)
	if s.screen != nil {
		s.screen.WaitDismiss()
		st := s.screen.State()
		last := st.Result()
		if st.Err != nil {
			last += "\n  error: " + st.Err.Error()
		}
		s.close(last)
	}
	if runErr != nil {
		if errors.Is(runErr, operation.ErrOperationInProgress) {
			return runErr
		}
		return errFailed
	}
	return nil
}

func (s *session) runMulti(ctx context.Context, title string, op operation.DeviceBound) error {
	mr := operation.NewMultiRunner(s.locator, s.exec, s.log)
	mr.ContinueOnFailure = s.cfg.ContinueOnFailure()

	n := 0
	var obsErr error
	outcomes, err := mr.Run(ctx, op, func(h device.Handle) operation.Observer {
		n++
		obs, err := s.observer(fmt.Sprintf("%s [%d]", title, n), false)
		if err != nil {
			obsErr = err
			return operation.ObserverFuncs{}
		}
		return obs
	})
	s.close("")
	if obsErr != nil {
		return obsErr
	}
	if err != nil {
		return err
	}

	fmt.Fprint(s.out, operation.Summary(outcomes))
	if operation.Failed(outcomes) > 0 {
		return errFailed
	}
	return nil
}

// saveTo wraps a backup so its data lands in a file only when the device
// run succeeds. In multi mode every device gets its own file.
func (s *session) saveTo(path string, backup func(w io.Writer) operation.DeviceBound) operation.DeviceBound {
	return func(ctx context.Context, dev *operation.Device, r operation.Reporter) error {
		var buf bytes.Buffer
		if err := backup(&buf)(ctx, dev, r); err != nil {
			return err
		}
		out := path
		if s.multi {
			out = perDevicePath(path, dev.Handle.Port)
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("save backup: %w", err)
		}
		s.log.Info().Str("file", out).Int("bytes", buf.Len()).Msg("backup saved")
		return nil
	}
}

// perDevicePath turns "game.bin" and port "/dev/ttyACM1" into
// "game-ttyACM1.bin".
func perDevicePath(path, port string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	name := filepath.Base(strings.ReplaceAll(port, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return base + "-" + name + ext
}
