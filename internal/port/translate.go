package port

import (
	"fmt"

	"github.com/wbjohnston/matchbook/internal/fixproto"
	"github.com/wbjohnston/matchbook/internal/message"
)

// toInternalSubmit maps an inbound NewOrderSingle to a LimitOrderSubmitRequest.
// Side is hardcoded to Bid regardless of the FIX Side field, per spec.md §9
// open question 1 — preserved verbatim rather than read from the wire.
func toInternalSubmit(body *fixproto.NewOrderSingle) (message.LimitOrderSubmitRequest, error) {
	sym, err := message.NewSymbol(body.Symbol)
	if err != nil {
		return message.LimitOrderSubmitRequest{}, fmt.Errorf("port: translating NewOrderSingle: %w", err)
	}
	return message.LimitOrderSubmitRequest{
		Side:     message.SideBid,
		Price:    message.Price(body.Price),
		Quantity: message.Quantity(body.OrderQty),
		Symbol:   sym,
	}, nil
}

// toInternalCancel builds a LimitOrderCancelRequest for the engine-local
// order id the session has already resolved from the client's stringified
// OrderID (see session.go's orderIDs map — the wire OrderID is a MessageId,
// not the engine's own order counter, so this indirection is required).
func toInternalCancel(orderID message.OrderID) message.LimitOrderCancelRequest {
	return message.LimitOrderCancelRequest{Id: orderID}
}

// sideToFIX maps the internal Side to the FIX Side(54) enumeration: Bid to
// Buy, Ask to Sell, per spec.md §6.
func sideToFIX(s message.Side) fixproto.Side {
	if s == message.SideAsk {
		return fixproto.SideSell
	}
	return fixproto.SideBuy
}

// toExecutionReport maps a LimitOrderSubmitRequestAcknowledge to an
// ExecutionReport. OrderID and ExecID are stamped with the stringified
// MessageId that carried the acknowledgement: stable, unique, and
// traceable back to the bus, resolving spec.md §6's "placeholder" note.
func toExecutionReport(id message.MessageId, ack message.LimitOrderSubmitRequestAcknowledge) fixproto.ExecutionReport {
	return fixproto.ExecutionReport{
		OrderID:       id.String(),
		ExecID:        id.String(),
		ExecTransType: fixproto.ExecTransTypeNew,
		ExecType:      fixproto.ExecTypeNew,
		OrdStatus:     fixproto.OrdStatusNew,
		Symbol:        ack.Symbol.String(),
		Side:          sideToFIX(ack.Side),
		LeavesQty:     uint64(ack.Quantity),
		CumQty:        0,
		AvgPx:         0,
	}
}

// toExecutionReportFromFill maps an Execution to an ExecutionReport fill
// notification, again stamping OrderID/ExecID from the carrying MessageId.
func toExecutionReportFromFill(id message.MessageId, exec message.Execution) fixproto.ExecutionReport {
	return fixproto.ExecutionReport{
		OrderID:       id.String(),
		ExecID:        id.String(),
		ExecTransType: fixproto.ExecTransTypeNew,
		ExecType:      fixproto.ExecTypeNew,
		OrdStatus:     fixproto.OrdStatusNew,
		Symbol:        exec.Symbol.String(),
		Side:          sideToFIX(exec.Side),
		LeavesQty:     0,
		CumQty:        uint64(exec.Quantity),
		AvgPx:         float64(exec.Price),
		LastQty:       uint64(exec.Quantity),
		LastPx:        float64(exec.Price),
	}
}
