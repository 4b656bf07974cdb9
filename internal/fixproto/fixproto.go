// Package fixproto is the external, client-facing session protocol spoken
// over the gateway's TLS connection: a FIX-style application message set,
// JSON-framed rather than tag=value encoded, per spec.md §6. Field naming
// follows FIX tag conventions (SenderCompID, MsgSeqNum, OrdStatus, ...) the
// way a real FIX client library would name them.
package fixproto

import "time"

// MsgType identifies which Body variant a Message carries.
type MsgType string

const (
	MsgTypeLogon            MsgType = "A"
	MsgTypeLogout           MsgType = "5"
	MsgTypeNewOrderSingle   MsgType = "D"
	MsgTypeOrderCancelRequest MsgType = "F"
	MsgTypeExecutionReport  MsgType = "8"
)

// BeginString is the wire identity this gateway asserts. The source this
// protocol is ported from carries a FIX 4.4-shaped payload under a FIX 4.2
// BeginString; that mismatch is preserved verbatim rather than "fixed".
const BeginString = "FIX.4.2"

// Header precedes every message on the session.
type Header struct {
	BeginString  string    `json:"BeginString"`
	BodyLength   int       `json:"BodyLength,omitempty"`
	MsgType      MsgType   `json:"MsgType"`
	SenderCompID string    `json:"SenderCompID"`
	TargetCompID string    `json:"TargetCompID"`
	MsgSeqNum    uint64    `json:"MsgSeqNum"`
	SendingTime  time.Time `json:"SendingTime"`
}

// Trailer is optional and unused by the current session handshake, but is
// part of the wire shape a FIX-style client expects to be able to send.
type Trailer struct {
	SignatureLength int    `json:"SignatureLength,omitempty"`
	Signature       string `json:"Signature,omitempty"`
}

// Side mirrors the FIX Side(54) enumeration values this gateway recognizes.
type Side string

const (
	SideBuy  Side = "1"
	SideSell Side = "2"
)

// OrdStatus mirrors FIX OrdStatus(39).
type OrdStatus string

const (
	OrdStatusNew OrdStatus = "0"
)

// ExecType mirrors FIX ExecType(150).
type ExecType string

const (
	ExecTypeNew ExecType = "0"
)

// ExecTransType mirrors FIX ExecTransType(20).
type ExecTransType string

const (
	ExecTransTypeNew ExecTransType = "0"
)

// Logon is the body of an MsgTypeLogon message, sent by the client to open
// a session and echoed back by the gateway to confirm it.
type Logon struct {
	EncryptMethod string `json:"EncryptMethod,omitempty"`
	HeartBtInt    int    `json:"HeartBtInt,omitempty"`
}

// Logout is sent by the gateway (and accepted from the client) to end a
// session, optionally carrying a human-readable reason.
type Logout struct {
	Text string `json:"Text,omitempty"`
}

// NewOrderSingle is an inbound order submission.
type NewOrderSingle struct {
	ClOrdID  string  `json:"ClOrdID"`
	Symbol   string  `json:"Symbol"`
	Side     Side    `json:"Side"`
	OrderQty uint64  `json:"OrderQty"`
	Price    float64 `json:"Price"`
}

// OrderCancelRequest is an inbound cancellation of a resting order.
type OrderCancelRequest struct {
	ClOrdID       string `json:"ClOrdID"`
	OrigClOrdID   string `json:"OrigClOrdID"`
	OrderID       string `json:"OrderID"`
}

// ExecutionReport is an outbound acknowledgement or fill notification.
type ExecutionReport struct {
	OrderID       string        `json:"OrderID"`
	ExecID        string        `json:"ExecID"`
	ExecTransType ExecTransType `json:"ExecTransType"`
	ExecType      ExecType      `json:"ExecType"`
	OrdStatus     OrdStatus     `json:"OrdStatus"`
	Symbol        string        `json:"Symbol"`
	Side          Side          `json:"Side"`
	LeavesQty     uint64        `json:"LeavesQty"`
	CumQty        uint64        `json:"CumQty"`
	AvgPx         float64       `json:"AvgPx"`
	LastQty       uint64        `json:"LastQty,omitempty"`
	LastPx        float64       `json:"LastPx,omitempty"`
}

// Message is one JSON object read from or written to the session socket:
// the Header plus exactly one Body variant keyed by Header.MsgType, and an
// optional Trailer. Exactly one of the Body pointer fields is set for a
// given MsgType.
type Message struct {
	Header  Header   `json:"Header"`
	Trailer *Trailer `json:"Trailer,omitempty"`

	Logon              *Logon              `json:"Logon,omitempty"`
	LogoutBody         *Logout             `json:"Logout,omitempty"`
	NewOrderSingle     *NewOrderSingle     `json:"NewOrderSingle,omitempty"`
	OrderCancelRequest *OrderCancelRequest `json:"OrderCancelRequest,omitempty"`
	ExecutionReport    *ExecutionReport    `json:"ExecutionReport,omitempty"`
}
