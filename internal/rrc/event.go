package rrc

import (
	"fmt"
	"strings"
	"time"
)

// Kind is a connectivity transition raised by the radio control layer.
type Kind uint8

const (
	ConnectionEstablished Kind = iota
	HandoverStarted
	HandoverCompleted
)

// Kinds lists every kind in trace order.
var Kinds = []Kind{ConnectionEstablished, HandoverStarted, HandoverCompleted}

// TraceName returns the trace source name the kind is published under.
func (k Kind) TraceName() string {
	switch k {
	case ConnectionEstablished:
		return "ConnectionEstablished"
	case HandoverStarted:
		return "HandoverStart"
	case HandoverCompleted:
		return "HandoverEndOk"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) String() string {
	return k.TraceName()
}

// ParseKind accepts a trace name or a lowercase alias such as "handover_start".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "connectionestablished", "connected":
		return ConnectionEstablished, nil
	case "handoverstart", "handoverstarted":
		return HandoverStarted, nil
	case "handoverendok", "handovercompleted", "handoverend":
		return HandoverCompleted, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Arity is the number of positional arguments after the context.
func (k Kind) Arity() int {
	if k == HandoverStarted {
		return 4
	}
	return 3
}

// Role is the side of the radio link that raised an event.
type Role uint8

const (
	RoleUE Role = iota
	RoleENB
)

// Roles lists both roles.
var Roles = []Role{RoleUE, RoleENB}

// Component returns the device component name the role's traces hang off.
func (r Role) Component() string {
	if r == RoleENB {
		return "LteEnbRrc"
	}
	return "LteUeRrc"
}

// Label is the role as printed in notification lines.
func (r Role) Label() string {
	if r == RoleENB {
		return "eNB"
	}
	return "UE"
}

func (r Role) String() string {
	return r.Label()
}

// ParseRole accepts "ue" or "enb" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "ue":
		return RoleUE, nil
	case "enb":
		return RoleENB, nil
	}
	return 0, fmt.Errorf("unknown event role %q", s)
}

// TracePath is the fully qualified context of an event raised on one device.
func TracePath(node, device uint32, role Role, kind Kind) string {
	return fmt.Sprintf("/NodeList/%d/DeviceList/%d/%s/%s", node, device, role.Component(), kind.TraceName())
}

// SourcePattern matches the kind on every node and device of the role.
func SourcePattern(role Role, kind Kind) string {
	return fmt.Sprintf("/NodeList/*/DeviceList/*/%s/%s", role.Component(), kind.TraceName())
}

// Event is a decoded connectivity event. Target is only meaningful for
// HandoverStarted.
type Event struct {
	At      time.Duration // simulated time
	Context string
	Role    Role
	Kind    Kind
	IMSI    uint64
	Cell    uint16
	RNTI    uint16
	Target  uint16
}
