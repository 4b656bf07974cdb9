package message

import (
	"encoding/json"
	"fmt"
)

// Price and Quantity are non-negative tick/share counts. Equality and
// ordering are plain arithmetic, so no wrapper type is needed beyond a name.
type Price uint64
type Quantity uint64

// OrderID is the matching engine's engine-local, monotonically increasing
// order identifier.
type OrderID uint64

// Side is which side of the book an order or execution sits on.
type Side string

const (
	SideBid Side = "Bid"
	SideAsk Side = "Ask"
)

// Symbol is a fixed 4-character instrument identifier. Equality is
// bytewise, which the comparable [4]byte array gives for free.
type Symbol [4]byte

// NewSymbol builds a Symbol from an exactly-4-byte string.
func NewSymbol(s string) (Symbol, error) {
	var sym Symbol
	if len(s) != 4 {
		return sym, fmt.Errorf("message: symbol %q is not 4 characters", s)
	}
	copy(sym[:], s)
	return sym, nil
}

func (s Symbol) String() string {
	return string(s[:])
}

func (s Symbol) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Symbol) UnmarshalText(text []byte) error {
	sym, err := NewSymbol(string(text))
	if err != nil {
		return err
	}
	*s = sym
	return nil
}

// MessageKind is the tagged union of payloads a Message can carry. It is
// sealed to the variants declared in this file.
type MessageKind interface {
	messageKindVariant() string
}

// LimitOrderSubmitRequest asks the matching engine to place a new resting
// limit order on Symbol's book.
type LimitOrderSubmitRequest struct {
	Side     Side
	Price    Price
	Quantity Quantity
	Symbol   Symbol
}

func (LimitOrderSubmitRequest) messageKindVariant() string { return "LimitOrderSubmitRequest" }

// LimitOrderSubmitRequestAcknowledge confirms a submission was accepted and
// assigned Id, echoing the submitted terms.
type LimitOrderSubmitRequestAcknowledge struct {
	Id       OrderID
	Side     Side
	Price    Price
	Quantity Quantity
	Symbol   Symbol
}

func (LimitOrderSubmitRequestAcknowledge) messageKindVariant() string {
	return "LimitOrderSubmitRequestAcknowledge"
}

// Execution reports one completed fill (full or partial) to one of the two
// counterparties; Id names that counterparty's own order.
type Execution struct {
	Id       OrderID
	Side     Side
	Price    Price
	Quantity Quantity
	Symbol   Symbol
}

func (Execution) messageKindVariant() string { return "Execution" }

// LimitOrderCancelRequest asks the matching engine to remove a still-resting
// order from its book.
type LimitOrderCancelRequest struct {
	Id OrderID
}

func (LimitOrderCancelRequest) messageKindVariant() string { return "LimitOrderCancelRequest" }

// LimitOrderCancelRequestAcknowledge confirms a cancel was applied.
type LimitOrderCancelRequestAcknowledge struct {
	Id OrderID
}

func (LimitOrderCancelRequestAcknowledge) messageKindVariant() string {
	return "LimitOrderCancelRequestAcknowledge"
}

// RetransmitRequest asks the retransmitter to republish the message named by
// the enclosing Message's Id. It carries no payload of its own.
type RetransmitRequest struct{}

func (RetransmitRequest) messageKindVariant() string { return "RetransmitRequest" }

// Message is one envelope that crosses the backbone: its identity plus one
// tagged payload variant.
type Message struct {
	Id   MessageId
	Kind MessageKind
}

// wireEnvelope is the on-the-wire shape: {"id": "...", "kind": <tagged>}.
type wireEnvelope struct {
	Id   MessageId       `json:"id"`
	Kind json.RawMessage `json:"kind"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var kindRaw json.RawMessage
	if _, isRetransmit := m.Kind.(RetransmitRequest); isRetransmit {
		raw, err := json.Marshal(m.Kind.messageKindVariant())
		if err != nil {
			return nil, err
		}
		kindRaw = raw
	} else {
		payload, err := json.Marshal(m.Kind)
		if err != nil {
			return nil, err
		}
		tagged := map[string]json.RawMessage{m.Kind.messageKindVariant(): payload}
		raw, err := json.Marshal(tagged)
		if err != nil {
			return nil, err
		}
		kindRaw = raw
	}
	return json.Marshal(wireEnvelope{Id: m.Id, Kind: kindRaw})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	kind, err := decodeMessageKind(env.Kind)
	if err != nil {
		return fmt.Errorf("message: decoding kind for %s: %w", env.Id, err)
	}
	m.Id = env.Id
	m.Kind = kind
	return nil
}

func decodeMessageKind(raw json.RawMessage) (MessageKind, error) {
	var bareTag string
	if err := json.Unmarshal(raw, &bareTag); err == nil {
		if bareTag == "RetransmitRequest" {
			return RetransmitRequest{}, nil
		}
		return nil, fmt.Errorf("unknown bare-tagged kind %q", bareTag)
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("kind is neither a bare string nor a tagged object: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("tagged kind object must have exactly one key, got %d", len(tagged))
	}

	for variant, payload := range tagged {
		switch variant {
		case "LimitOrderSubmitRequest":
			var v LimitOrderSubmitRequest
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		case "LimitOrderSubmitRequestAcknowledge":
			var v LimitOrderSubmitRequestAcknowledge
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		case "Execution":
			var v Execution
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		case "LimitOrderCancelRequest":
			var v LimitOrderCancelRequest
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		case "LimitOrderCancelRequestAcknowledge":
			var v LimitOrderCancelRequestAcknowledge
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		default:
			return nil, fmt.Errorf("unknown tagged kind %q", variant)
		}
	}
	panic("unreachable")
}
