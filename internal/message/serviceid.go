// Package message defines the wire and in-memory representation of
// everything that crosses the backbone: service identities, message
// identifiers, and the tagged Message envelope itself.
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// ServiceKind names one of the three service roles that can publish to the
// backbone. Rendered in kebab-case on the wire.
type ServiceKind string

const (
	ServiceKindPort            ServiceKind = "port"
	ServiceKindMatchingEngine  ServiceKind = "matching-engine"
	ServiceKindRetransmitter   ServiceKind = "retransmitter"
)

func (k ServiceKind) valid() bool {
	switch k {
	case ServiceKindPort, ServiceKindMatchingEngine, ServiceKindRetransmitter:
		return true
	default:
		return false
	}
}

// ServiceId identifies one running instance of a service: its kind and an
// instance number, rendered as "<kind>:<number>".
type ServiceId struct {
	Kind   ServiceKind
	Number uint32
}

func NewServiceId(kind ServiceKind, number uint32) ServiceId {
	return ServiceId{Kind: kind, Number: number}
}

func (id ServiceId) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.Number)
}

// ParseServiceId parses the "<kind>:<number>" rendering produced by String.
// Fails on an unknown kind or a missing/non-numeric instance number.
func ParseServiceId(s string) (ServiceId, error) {
	kind, numStr, ok := strings.Cut(s, ":")
	if !ok {
		return ServiceId{}, fmt.Errorf("message: malformed service id %q: missing ':'", s)
	}
	k := ServiceKind(kind)
	if !k.valid() {
		return ServiceId{}, fmt.Errorf("message: unknown service kind %q", kind)
	}
	if numStr == "" {
		return ServiceId{}, fmt.Errorf("message: malformed service id %q: missing number", s)
	}
	n, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return ServiceId{}, fmt.Errorf("message: malformed service id %q: %w", s, err)
	}
	return ServiceId{Kind: k, Number: uint32(n)}, nil
}

func (id ServiceId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ServiceId) UnmarshalText(text []byte) error {
	parsed, err := ParseServiceId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
