package busreset

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	results []Result
	errs    []error
	block   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, call{name: name, args: args})
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	var res Result
	if i < len(f.results) {
		res = f.results[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type transitions struct {
	mu   sync.Mutex
	seen []State
}

func (tr *transitions) record(from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.seen) == 0 {
		tr.seen = append(tr.seen, from)
	}
	tr.seen = append(tr.seen, to)
}

func TestReset_SuccessTransitionsIdleResettingIdle(t *testing.T) {
	fr := &fakeRunner{}
	tr := &transitions{}
	s := NewSupervisor(Config{Runner: fr, OnTransition: tr.record})

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	want := []State{StateIdle, StateResetting, StateIdle}
	if len(tr.seen) != len(want) {
		t.Fatalf("transitions=%v want %v", tr.seen, want)
	}
	for i := range want {
		if tr.seen[i] != want[i] {
			t.Fatalf("transitions=%v want %v", tr.seen, want)
		}
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%v want idle", s.State())
	}

	if len(fr.calls) != 2 {
		t.Fatalf("calls=%d want 2", len(fr.calls))
	}
	if fr.calls[0].name != "sudo" || strings.Join(fr.calls[0].args, " ") != "rmmod i2c_bcm2835" {
		t.Fatalf("first call=%+v want sudo rmmod i2c_bcm2835", fr.calls[0])
	}
	if fr.calls[1].name != "sudo" || strings.Join(fr.calls[1].args, " ") != "modprobe i2c_bcm2835" {
		t.Fatalf("second call=%+v want sudo modprobe i2c_bcm2835", fr.calls[1])
	}

	snap := s.Snapshot()
	if snap.Attempts != 1 || snap.Failures != 0 || snap.LastError != "" || snap.State != "idle" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestReset_NonZeroExitStopsSequence(t *testing.T) {
	fr := &fakeRunner{results: []Result{{ExitCode: 1, Stderr: "rmmod: ERROR: Module i2c_bcm2835 is in use\n"}}}
	s := NewSupervisor(Config{Runner: fr})

	err := s.Reset(context.Background())
	if !errors.Is(err, ErrResetCommand) {
		t.Fatalf("err=%v want ErrResetCommand", err)
	}
	if !strings.Contains(err.Error(), "is in use") {
		t.Fatalf("err=%v want stderr included", err)
	}
	if fr.callCount() != 1 {
		t.Fatalf("calls=%d want 1 (no modprobe after failed rmmod)", fr.callCount())
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%v want idle after failure", s.State())
	}
	snap := s.Snapshot()
	if snap.Failures != 1 || snap.LastError == "" {
		t.Fatalf("snapshot=%+v want recorded failure", snap)
	}
}

func TestReset_StartErrorIsResetCommandFailure(t *testing.T) {
	fr := &fakeRunner{errs: []error{nil, errors.New("exec: \"sudo\": executable file not found")}}
	s := NewSupervisor(Config{Runner: fr})

	if err := s.Reset(context.Background()); !errors.Is(err, ErrResetCommand) {
		t.Fatalf("err=%v want ErrResetCommand", err)
	}
	if fr.callCount() != 2 {
		t.Fatalf("calls=%d want 2", fr.callCount())
	}
}

func TestReset_NotRetriedAutomatically(t *testing.T) {
	fr := &fakeRunner{results: []Result{{ExitCode: 2}}}
	s := NewSupervisor(Config{Runner: fr})

	_ = s.Reset(context.Background())
	time.Sleep(20 * time.Millisecond)
	if fr.callCount() != 1 {
		t.Fatalf("calls=%d want 1", fr.callCount())
	}

	// A fresh Reset is allowed and runs the full sequence again.
	fr.mu.Lock()
	fr.calls = nil
	fr.results = nil
	fr.mu.Unlock()
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
	if snap := s.Snapshot(); snap.Attempts != 2 || snap.LastError != "" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestReset_ConcurrentResetRejected(t *testing.T) {
	fr := &fakeRunner{block: make(chan struct{})}
	s := NewSupervisor(Config{Runner: fr})

	done := make(chan error, 1)
	go func() { done <- s.Reset(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for s.State() != StateResetting {
		if time.Now().After(deadline) {
			t.Fatalf("first reset never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Reset(context.Background()); !errors.Is(err, ErrResetInProgress) {
		t.Fatalf("err=%v want ErrResetInProgress", err)
	}

	close(fr.block)
	if err := <-done; err != nil {
		t.Fatalf("first Reset: %v", err)
	}
}

func TestReset_CommandTimeout(t *testing.T) {
	fr := &fakeRunner{block: make(chan struct{})}
	s := NewSupervisor(Config{Runner: fr, Timeout: 20 * time.Millisecond})

	start := time.Now()
	err := s.Reset(context.Background())
	if !errors.Is(err, ErrResetCommand) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want ErrResetCommand wrapping deadline", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("reset took %v", time.Since(start))
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%v want idle", s.State())
	}
}
