package busreset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	ErrResetCommand    = errors.New("busreset: reset command failed")
	ErrResetInProgress = errors.New("busreset: reset already in progress")
)

type State int

const (
	StateIdle State = iota
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResetting:
		return "resetting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// DefaultCommands unloads and reloads the Raspberry Pi I2C controller module.
func DefaultCommands() []Command {
	return []Command{
		{Name: "sudo", Args: []string{"rmmod", "i2c_bcm2835"}},
		{Name: "sudo", Args: []string{"modprobe", "i2c_bcm2835"}},
	}
}

type Config struct {
	Commands []Command
	// Timeout bounds each command. Defaults to 10s.
	Timeout time.Duration
	Runner  Runner

	// OnTransition, if set, is called synchronously on every state change.
	OnTransition func(from, to State)
}

type Snapshot struct {
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	Failures    int       `json:"failures"`
	LastResetAt time.Time `json:"last_reset_utc,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Supervisor drives the bus recovery procedure: Idle -> Resetting -> Idle.
// Reset runs on the caller's goroutine and blocks for as long as the
// external commands take.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	state    State
	attempts int
	failures int
	lastAt   time.Time
	lastErr  string
}

func NewSupervisor(cfg Config) *Supervisor {
	if len(cfg.Commands) == 0 {
		cfg.Commands = DefaultCommands()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	return &Supervisor{cfg: cfg}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state.String(),
		Attempts:    s.attempts,
		Failures:    s.failures,
		LastResetAt: s.lastAt,
		LastError:   s.lastErr,
	}
}

// Reset runs the configured commands in order, stopping at the first
// failure. It is not retried; the next recovery attempt is the caller's
// decision. The supervisor is back in StateIdle when Reset returns.
func (s *Supervisor) Reset(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("busreset: supervisor is nil")
	}
	if !s.enter() {
		return ErrResetInProgress
	}

	log.Printf("busreset resetting i2c bus")
	err := s.runAll(ctx)
	s.leave(err)
	if err != nil {
		log.Printf("busreset failed: %v", err)
		return err
	}
	log.Printf("busreset i2c bus reset complete")
	return nil
}

func (s *Supervisor) runAll(ctx context.Context) error {
	for _, c := range s.cfg.Commands {
		if err := s.runOne(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) runOne(ctx context.Context, c Command) error {
	cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.cfg.Runner.Run(cmdCtx, c.Name, c.Args...)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		log.Printf("busreset cmd=%q stdout=%s", c.String(), out)
	}
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrResetCommand, c.String(), err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %q exited %d: %s", ErrResetCommand, c.String(), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (s *Supervisor) enter() bool {
	s.mu.Lock()
	if s.state == StateResetting {
		s.mu.Unlock()
		return false
	}
	s.state = StateResetting
	s.attempts++
	s.mu.Unlock()
	s.notify(StateIdle, StateResetting)
	return true
}

func (s *Supervisor) leave(err error) {
	s.mu.Lock()
	s.state = StateIdle
	s.lastAt = time.Now().UTC()
	if err != nil {
		s.failures++
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
	s.notify(StateResetting, StateIdle)
}

func (s *Supervisor) notify(from, to State) {
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}
