package sim

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"time"

	ms "github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"handover-sim/internal/rrc"
)

// ScriptEvent is one connectivity event to replay. Node and Device default
// to the device the resolver finds for the role (endpoint by IMSI, station
// by cell) and device 0.
type ScriptEvent struct {
	At     time.Duration `mapstructure:"at"`
	Role   rrc.Role      `mapstructure:"role"`
	Kind   rrc.Kind      `mapstructure:"kind"`
	IMSI   uint64        `mapstructure:"imsi"`
	Cell   uint64        `mapstructure:"cell"`
	RNTI   uint64        `mapstructure:"rnti"`
	Target *uint64       `mapstructure:"target"`
	Node   *uint32       `mapstructure:"node"`
	Device uint32        `mapstructure:"device"`
}

// Handover expands into the four events of one successful X2 handover: the
// endpoint and its source station start at At, the target station and the
// endpoint complete Delay later under the new RNTI.
type Handover struct {
	At      time.Duration `mapstructure:"at"`
	IMSI    uint64        `mapstructure:"imsi"`
	From    uint64        `mapstructure:"from"`
	To      uint64        `mapstructure:"to"`
	RNTI    uint64        `mapstructure:"rnti"`
	NewRNTI uint64        `mapstructure:"new_rnti"`
	Delay   time.Duration `mapstructure:"delay"`
}

// Script is a time-ordered list of connectivity events.
type Script struct {
	Events    []ScriptEvent `mapstructure:"events"`
	Handovers []Handover    `mapstructure:"handovers"`
}

// NodeResolver maps an event to the node that raises it.
type NodeResolver interface {
	NodeFor(role rrc.Role, imsi uint64, cell uint16) (uint32, bool)
}

// Publisher is the event bus the script replays onto.
type Publisher interface {
	Publish(context string, args ...uint64) int
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	return s, nil
}

// ParseScript decodes a YAML script. Times accept Go durations ("1.5s") or
// plain numbers of seconds.
func ParseScript(data []byte) (*Script, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	script := &Script{}
	dec, err := ms.NewDecoder(&ms.DecoderConfig{
		DecodeHook: ms.ComposeDecodeHookFunc(
			secondsHook,
			ms.StringToTimeDurationHookFunc(),
			kindHook,
			roleHook,
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           script,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}

	for i, ev := range script.Events {
		if ev.At < 0 {
			return nil, fmt.Errorf("event %d: negative time %s", i, ev.At)
		}
	}
	for i, h := range script.Handovers {
		if h.At < 0 || h.Delay < 0 {
			return nil, fmt.Errorf("handover %d: negative time", i)
		}
		if h.From == h.To {
			return nil, fmt.Errorf("handover %d: source and target cell are both %d", i, h.From)
		}
	}
	return script, nil
}

// Expand returns every event of the script, handovers included, sorted by time.
func (s *Script) Expand() []ScriptEvent {
	out := make([]ScriptEvent, 0, len(s.Events)+4*len(s.Handovers))
	out = append(out, s.Events...)
	for _, h := range s.Handovers {
		target := h.To
		newRNTI := h.NewRNTI
		if newRNTI == 0 {
			newRNTI = h.RNTI
		}
		done := h.At + h.Delay
		out = append(out,
			ScriptEvent{At: h.At, Role: rrc.RoleUE, Kind: rrc.HandoverStarted, IMSI: h.IMSI, Cell: h.From, RNTI: h.RNTI, Target: &target},
			ScriptEvent{At: h.At, Role: rrc.RoleENB, Kind: rrc.HandoverStarted, IMSI: h.IMSI, Cell: h.From, RNTI: h.RNTI, Target: &target},
			ScriptEvent{At: done, Role: rrc.RoleENB, Kind: rrc.HandoverCompleted, IMSI: h.IMSI, Cell: h.To, RNTI: newRNTI},
			ScriptEvent{At: done, Role: rrc.RoleUE, Kind: rrc.HandoverCompleted, IMSI: h.IMSI, Cell: h.To, RNTI: newRNTI},
		)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

// Attachments returns the connection events of endpoints 1..n attaching to
// cell at the given time, one RNTI per endpoint.
func Attachments(at time.Duration, imsis []uint64, cell uint16) []ScriptEvent {
	out := make([]ScriptEvent, 0, 2*len(imsis))
	for i, imsi := range imsis {
		rnti := uint64(i + 1)
		out = append(out,
			ScriptEvent{At: at, Role: rrc.RoleUE, Kind: rrc.ConnectionEstablished, IMSI: imsi, Cell: uint64(cell), RNTI: rnti},
			ScriptEvent{At: at, Role: rrc.RoleENB, Kind: rrc.ConnectionEstablished, IMSI: imsi, Cell: uint64(cell), RNTI: rnti},
		)
	}
	return out
}

// Args returns the positional event arguments in publishing order.
func (e ScriptEvent) Args() []uint64 {
	args := []uint64{e.IMSI, e.Cell, e.RNTI}
	if e.Target != nil {
		args = append(args, *e.Target)
	}
	return args
}

// Replay schedules every event on the loop. Events whose node cannot be
// resolved are skipped with a warning.
func Replay(loop *Loop, bus Publisher, resolver NodeResolver, events []ScriptEvent) int {
	scheduled := 0
	for _, ev := range events {
		node, ok := resolveNode(resolver, ev)
		if !ok {
			log.WithFields(log.Fields{
				"imsi": ev.IMSI,
				"cell": ev.Cell,
				"role": ev.Role,
			}).Warn("No node raises this event, skipping")
			continue
		}

		context := rrc.TracePath(node, ev.Device, ev.Role, ev.Kind)
		args := ev.Args()
		loop.Schedule(ev.At, func() {
			if bus.Publish(context, args...) == 0 {
				log.WithField("context", context).Debug("Event had no subscribers")
			}
		})
		scheduled++
	}
	return scheduled
}

func resolveNode(resolver NodeResolver, ev ScriptEvent) (uint32, bool) {
	if ev.Node != nil {
		return *ev.Node, true
	}
	if resolver == nil {
		return 0, false
	}
	// out-of-range cells still resolve through the endpoint side only
	cell := uint16(ev.Cell)
	if ev.Cell > 0xFFFF {
		if ev.Role == rrc.RoleENB {
			return 0, false
		}
		cell = 0
	}
	return resolver.NodeFor(ev.Role, ev.IMSI, cell)
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	kindType     = reflect.TypeOf(rrc.Kind(0))
	roleType     = reflect.TypeOf(rrc.Role(0))
)

func secondsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

func kindHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != kindType || from.Kind() != reflect.String {
		return data, nil
	}
	return rrc.ParseKind(data.(string))
}

func roleHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != roleType || from.Kind() != reflect.String {
		return data, nil
	}
	return rrc.ParseRole(data.(string))
}
