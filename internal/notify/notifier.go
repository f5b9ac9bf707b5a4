package notify

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/observability"
	"handover-sim/internal/rrc"
	"handover-sim/internal/stats"
)

// Clock reports the current simulated time.
type Clock interface {
	Now() time.Duration
}

// MalformedEventError reports an event whose arguments cannot be rendered.
type MalformedEventError struct {
	Context string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event on %s: %s", e.Context, e.Reason)
}

// Notifier renders connectivity events as one timestamped line each. It keeps
// no state between events and never blocks the publisher.
type Notifier struct {
	clock   Clock
	out     io.Writer
	stats   *stats.Collector
	metrics *observability.Metrics
	mu      sync.Mutex
}

// New creates a notifier writing to out, or to stdout when out is nil.
// stats and metrics may be nil.
func New(clock Clock, out io.Writer, st *stats.Collector, m *observability.Metrics) *Notifier {
	if out == nil {
		out = os.Stdout
	}
	return &Notifier{
		clock:   clock,
		out:     out,
		stats:   st,
		metrics: m,
	}
}

// Register connects one handler per role and kind to the bus.
func (n *Notifier) Register(bus *rrc.Bus) error {
	for _, role := range rrc.Roles {
		for _, kind := range rrc.Kinds {
			if err := bus.Connect(rrc.SourcePattern(role, kind), n.Handler(role, kind)); err != nil {
				return fmt.Errorf("failed to register %s %s handler: %w", role, kind, err)
			}
		}
	}
	return nil
}

// Handler returns the bus callback for one role and kind.
func (n *Notifier) Handler(role rrc.Role, kind rrc.Kind) rrc.Callback {
	return func(context string, args ...uint64) {
		ev, err := Decode(role, kind, context, args)
		if err != nil {
			fields := log.Fields{
				"role":       role.Label(),
				"event":      kind.TraceName(),
				"error_kind": "MalformedEventError",
			}
			// the IMSI is always the first argument
			if len(args) > 0 {
				fields["imsi"] = args[0]
			}
			log.WithFields(fields).Warn(err.Error())
			if n.stats != nil {
				n.stats.RecordMalformedEvent()
			}
			n.metrics.MalformedEvent()
			return
		}
		if n.clock != nil {
			ev.At = n.clock.Now()
		}
		n.emit(ev)
	}
}

func (n *Notifier) emit(ev rrc.Event) {
	line := Format(ev) + "\n"

	n.mu.Lock()
	_, err := io.WriteString(n.out, line)
	n.mu.Unlock()

	if err != nil {
		log.WithError(err).WithField("event", ev.Kind.TraceName()).Warn("Failed to write notification")
		return
	}
	if n.stats != nil {
		n.stats.RecordEvent(ev.Role.Label(), ev.Kind.TraceName())
	}
	n.metrics.Event(ev.Role.Label(), ev.Kind.TraceName())
}

// Decode checks the positional arguments of an event and converts them.
func Decode(role rrc.Role, kind rrc.Kind, context string, args []uint64) (rrc.Event, error) {
	if len(args) != kind.Arity() {
		return rrc.Event{}, &MalformedEventError{
			Context: context,
			Reason:  fmt.Sprintf("%s expects %d arguments, got %d", kind.TraceName(), kind.Arity(), len(args)),
		}
	}

	ev := rrc.Event{
		Context: context,
		Role:    role,
		Kind:    kind,
		IMSI:    args[0],
	}
	var err error
	if ev.Cell, err = narrow(context, "cell id", args[1]); err != nil {
		return rrc.Event{}, err
	}
	if ev.RNTI, err = narrow(context, "rnti", args[2]); err != nil {
		return rrc.Event{}, err
	}
	if kind == rrc.HandoverStarted {
		if ev.Target, err = narrow(context, "target cell id", args[3]); err != nil {
			return rrc.Event{}, err
		}
	}
	return ev, nil
}

func narrow(context, field string, v uint64) (uint16, error) {
	if v > math.MaxUint16 {
		return 0, &MalformedEventError{
			Context: context,
			Reason:  fmt.Sprintf("%s %d out of range", field, v),
		}
	}
	return uint16(v), nil
}

// Format renders ev without a trailing newline.
func Format(ev rrc.Event) string {
	prefix := FormatTime(ev.At) + " " + ev.Context + " "

	if ev.Role == rrc.RoleUE {
		switch ev.Kind {
		case rrc.ConnectionEstablished:
			return fmt.Sprintf("%sUE IMSI %d: connected to CellId %d with RNTI %d",
				prefix, ev.IMSI, ev.Cell, ev.RNTI)
		case rrc.HandoverStarted:
			return fmt.Sprintf("%sUE IMSI %d: previously connected to CellId %d with RNTI %d, doing handover to CellId %d",
				prefix, ev.IMSI, ev.Cell, ev.RNTI, ev.Target)
		case rrc.HandoverCompleted:
			return fmt.Sprintf("%sUE IMSI %d: successful handover to CellId %d with RNTI %d",
				prefix, ev.IMSI, ev.Cell, ev.RNTI)
		}
	} else {
		switch ev.Kind {
		case rrc.ConnectionEstablished:
			return fmt.Sprintf("%seNB CellId %d: successful connection of UE with IMSI %d RNTI %d",
				prefix, ev.Cell, ev.IMSI, ev.RNTI)
		case rrc.HandoverStarted:
			return fmt.Sprintf("%seNB CellId %d: start handover of UE with IMSI %d RNTI %d to CellId %d",
				prefix, ev.Cell, ev.IMSI, ev.RNTI, ev.Target)
		case rrc.HandoverCompleted:
			return fmt.Sprintf("%seNB CellId %d: completed handover of UE with IMSI %d RNTI %d",
				prefix, ev.Cell, ev.IMSI, ev.RNTI)
		}
	}
	return fmt.Sprintf("%s%s %s IMSI %d", prefix, ev.Role.Label(), ev.Kind.TraceName(), ev.IMSI)
}

// FormatTime prints simulated seconds with six significant digits.
func FormatTime(at time.Duration) string {
	return strconv.FormatFloat(at.Seconds(), 'g', 6, 64)
}
