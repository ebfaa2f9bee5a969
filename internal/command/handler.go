package command

import (
	"context"
	"errors"
	"fmt"
	"log"

	"servolink/internal/actuator"
	"servolink/internal/servo"
)

type Status int

const (
	StatusOK Status = iota
	StatusPartial
	StatusBusy
	StatusInvalid
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusPartial:
		return "PARTIAL"
	case StatusBusy:
		return "BUSY"
	case StatusInvalid:
		return "INVALID"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the coarse outcome reported back to whoever sent the message.
type Result struct {
	Status  Status
	Applied int
	Total   int
	Err     error
}

func (r Result) String() string {
	switch r.Status {
	case StatusOK, StatusPartial:
		return fmt.Sprintf("%s %d/%d", r.Status, r.Applied, r.Total)
	case StatusInvalid:
		var de *servo.DecodeError
		if errors.As(r.Err, &de) {
			return fmt.Sprintf("INVALID %s", de.Reason)
		}
		return "INVALID"
	default:
		return r.Status.String()
	}
}

type applier interface {
	Apply(ctx context.Context, batch []servo.Instruction) (actuator.Report, error)
}

// Handler turns one raw message into one admitted batch.
type Handler struct {
	ctrl applier
}

func NewHandler(ctrl applier) *Handler {
	return &Handler{ctrl: ctrl}
}

// Handle decodes payload and applies it. It never returns an error: every
// failure is logged and folded into the Result.
func (h *Handler) Handle(ctx context.Context, source string, payload []byte) Result {
	batch, err := servo.Decode(string(payload))
	if err != nil {
		log.Printf("command rejected source=%s err=%v", source, err)
		return Result{Status: StatusInvalid, Err: err}
	}

	rep, err := h.ctrl.Apply(ctx, batch)
	switch {
	case errors.Is(err, actuator.ErrTimeout):
		return Result{Status: StatusBusy, Total: len(batch), Err: err}
	case errors.Is(err, actuator.ErrClosed):
		return Result{Status: StatusClosed, Total: len(batch), Err: err}
	case err != nil:
		log.Printf("command apply failed source=%s err=%v", source, err)
		return Result{Status: StatusBusy, Total: len(batch), Err: err}
	}

	res := Result{Status: StatusOK, Applied: rep.Applied(), Total: len(batch)}
	if !rep.OK() {
		res.Status = StatusPartial
		for _, o := range rep.Outcomes {
			if o.Err != nil {
				res.Err = o.Err
				break
			}
		}
		log.Printf("command partial source=%s applied=%d/%d", source, res.Applied, res.Total)
	}
	return res
}
