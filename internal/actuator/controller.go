package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"servolink/internal/servo"
)

var (
	ErrTimeout = errors.New("actuator: admission timed out")
	ErrClosed  = errors.New("actuator: controller closed")
)

const DefaultAdmissionTimeout = 150 * time.Millisecond

// Actuator is the write side of a Gateway.
type Actuator interface {
	SetChannel(channel int, duty float64) error
	Release() error
}

type Config struct {
	// AdmissionTimeout bounds how long Apply waits for the bus.
	AdmissionTimeout time.Duration
	Mapper           servo.Mapper
}

type Outcome struct {
	Instruction servo.Instruction
	Duty        float64
	Err         error
}

type Report struct {
	Outcomes []Outcome
	Started  time.Time
	Finished time.Time
}

func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (r Report) Applied() int { return len(r.Outcomes) - r.Failed() }

func (r Report) OK() bool { return r.Failed() == 0 }

type Snapshot struct {
	Batches        uint64    `json:"batches"`
	Instructions   uint64    `json:"instructions"`
	Timeouts       uint64    `json:"timeouts"`
	HardwareErrors uint64    `json:"hardware_errors"`
	LastBatchAt    time.Time `json:"last_batch_utc,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Closed         bool      `json:"closed"`
}

// Controller admits one instruction batch at a time onto the actuator.
//
// The gate is a weight-1 semaphore: waiters are admitted in the order they
// started waiting, and a waiter that is not admitted within the admission
// timeout gives up without touching the hardware.
type Controller struct {
	cfg  Config
	act  Actuator
	gate *semaphore.Weighted

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu   sync.RWMutex
	snap Snapshot
}

func NewController(act Actuator, cfg Config) *Controller {
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = DefaultAdmissionTimeout
	}
	return &Controller{cfg: cfg, act: act, gate: semaphore.NewWeighted(1)}
}

// Apply writes batch in order while holding the gate. Individual failures
// are recorded in the report and do not stop the batch. The only errors are
// ErrTimeout and ErrClosed, in which case nothing was written.
func (c *Controller) Apply(ctx context.Context, batch []servo.Instruction) (Report, error) {
	if c.closed.Load() {
		return Report{}, ErrClosed
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.AdmissionTimeout)
	defer cancel()
	if err := c.gate.Acquire(actx, 1); err != nil {
		c.setState(func(sn *Snapshot) {
			sn.Timeouts++
			sn.LastError = ErrTimeout.Error()
		})
		log.Printf("actuator servo control timed out after %s", c.cfg.AdmissionTimeout)
		return Report{}, fmt.Errorf("%w after %s: %w", ErrTimeout, c.cfg.AdmissionTimeout, err)
	}
	defer c.gate.Release(1)

	if c.closed.Load() {
		return Report{}, ErrClosed
	}

	rep := Report{Outcomes: make([]Outcome, 0, len(batch)), Started: time.Now()}
	for _, in := range batch {
		rep.Outcomes = append(rep.Outcomes, c.applyOne(in))
	}
	rep.Finished = time.Now()

	c.record(rep)
	return rep, nil
}

func (c *Controller) applyOne(in servo.Instruction) (out Outcome) {
	out.Instruction = in
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: channel %d: panic: %v", ErrHardware, in.Channel, r)
		}
		if out.Err != nil {
			log.Printf("actuator %s failed: %v", in, out.Err)
		}
	}()

	duty, err := c.cfg.Mapper.Map(in.Angle)
	if err != nil {
		out.Err = err
		return out
	}
	out.Duty = duty
	out.Err = c.act.SetChannel(in.Channel, duty)
	return out
}

func (c *Controller) record(rep Report) {
	var lastErr error
	var hwErrs uint64
	for _, o := range rep.Outcomes {
		if o.Err != nil {
			lastErr = o.Err
			if errors.Is(o.Err, ErrHardware) {
				hwErrs++
			}
		}
	}
	c.setState(func(sn *Snapshot) {
		sn.Batches++
		sn.Instructions += uint64(len(rep.Outcomes))
		sn.HardwareErrors += hwErrs
		sn.LastBatchAt = rep.Finished.UTC()
		if lastErr != nil {
			sn.LastError = lastErr.Error()
		}
	})
}

func (c *Controller) setState(update func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.snap)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sn := c.snap
	sn.Closed = c.closed.Load()
	return sn
}

// Close stops admitting batches, waits (bounded by ctx) for the batch in
// flight, then releases the actuator. Later calls return the first result.
func (c *Controller) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.gate.Acquire(ctx, 1); err != nil {
			log.Printf("actuator in-flight batch did not finish before shutdown: %v", err)
		} else {
			defer c.gate.Release(1)
		}
		c.closeErr = c.act.Release()
	})
	return c.closeErr
}
