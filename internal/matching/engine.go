package matching

import (
	"github.com/rs/zerolog"

	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/telemetry"
)

// Engine runs continuous price-time matching across a fixed, startup-seeded
// set of symbols. It is single-owner per spec.md §5: Submit and Cancel must
// only ever be called from one goroutine.
type Engine struct {
	serviceID message.ServiceId
	log       zerolog.Logger

	books      map[message.Symbol]*Book
	orderIndex map[message.OrderID]*LimitOrder

	nextOrderID message.OrderID
	insertSeq   uint64

	// topicSeq owns one per-destination-topic sequence counter, resolving
	// spec.md §9 open question 2: the engine is the only publisher that can
	// give its own output a sequencer-compatible per-topic sequence.
	topicSeq map[string]uint64
}

// New seeds an Engine with an immutable set of tradable symbols.
func New(serviceID message.ServiceId, symbols []message.Symbol, logger zerolog.Logger) *Engine {
	e := &Engine{
		serviceID:  serviceID,
		log:        logger,
		books:      make(map[message.Symbol]*Book, len(symbols)),
		orderIndex: make(map[message.OrderID]*LimitOrder),
		topicSeq:   make(map[string]uint64),
	}
	for _, sym := range symbols {
		e.books[sym] = newBook(sym)
	}
	return e
}

func (e *Engine) nextSeq(topic string) uint64 {
	seq := e.topicSeq[topic]
	e.topicSeq[topic] = seq + 1
	return seq
}

func (e *Engine) addressed(topic string, kind message.MessageKind) message.Message {
	return message.Message{
		Id:   message.NewMessageId(e.serviceID, topic, e.nextSeq(topic)),
		Kind: kind,
	}
}

// Submit applies a LimitOrderSubmitRequest from the participant addressed by
// topic, returning every message the engine must publish as a result, in
// order: the submitter's acknowledgement first, then one pair of Execution
// messages per fill (bidder's topic, then asker's topic).
//
// An unknown symbol is logged and the request dropped with no messages
// returned, per spec.md §4.4 and §7.
func (e *Engine) Submit(topic string, req message.LimitOrderSubmitRequest) []message.Message {
	book, ok := e.books[req.Symbol]
	if !ok {
		e.log.Warn().Stringer("symbol", req.Symbol).Str("topic", topic).
			Msg("matching: submission for unknown symbol, dropping")
		return nil
	}

	id := e.nextOrderID
	e.nextOrderID++
	e.insertSeq++

	order := &LimitOrder{
		ID:                id,
		Owner:             topic,
		Side:              req.Side,
		Symbol:            req.Symbol,
		Price:             req.Price,
		OriginalQuantity:  req.Quantity,
		RemainingQuantity: req.Quantity,
		insertSeq:         e.insertSeq,
	}
	book.push(order)
	e.orderIndex[id] = order

	out := []message.Message{
		e.addressed(topic, message.LimitOrderSubmitRequestAcknowledge{
			Id: id, Side: req.Side, Price: req.Price, Quantity: req.Quantity, Symbol: req.Symbol,
		}),
	}

	for {
		bid, ask := book.BestBid(), book.BestAsk()
		if bid == nil || ask == nil || ask.Price > bid.Price {
			break
		}

		fillQty := min(bid.RemainingQuantity, ask.RemainingQuantity)
		bid.RemainingQuantity -= fillQty
		ask.RemainingQuantity -= fillQty

		// Execution prints at max(bid, ask); for any cross this is the bid
		// price, whichever side was resting. Preserved verbatim per spec.md
		// §9 open question 3.
		execPrice := max(bid.Price, ask.Price)

		out = append(out,
			e.addressed(bid.Owner, message.Execution{Id: bid.ID, Side: message.SideBid, Price: execPrice, Quantity: fillQty, Symbol: req.Symbol}),
			e.addressed(ask.Owner, message.Execution{Id: ask.ID, Side: message.SideAsk, Price: execPrice, Quantity: fillQty, Symbol: req.Symbol}),
		)

		if bid.RemainingQuantity == 0 {
			book.removeFilled(bid)
			delete(e.orderIndex, bid.ID)
		}
		if ask.RemainingQuantity == 0 {
			book.removeFilled(ask)
			delete(e.orderIndex, ask.ID)
		}
	}

	e.reportDepth(req.Symbol, book)
	return out
}

// Cancel removes a still-resting order identified by req.Id, addressing the
// acknowledgement to topic. An unknown or already-filled id is logged and
// dropped, mirroring the unknown-symbol disposition.
func (e *Engine) Cancel(topic string, req message.LimitOrderCancelRequest) []message.Message {
	order, ok := e.orderIndex[req.Id]
	if !ok {
		e.log.Warn().Uint64("order_id", uint64(req.Id)).Str("topic", topic).
			Msg("matching: cancel for unknown or already-filled order, dropping")
		return nil
	}

	book := e.books[order.Symbol]
	book.cancel(order)
	delete(e.orderIndex, order.ID)
	e.reportDepth(order.Symbol, book)

	return []message.Message{
		e.addressed(topic, message.LimitOrderCancelRequestAcknowledge{Id: order.ID}),
	}
}

func (e *Engine) reportDepth(symbol message.Symbol, book *Book) {
	bids, asks := book.Depth()
	telemetry.BookDepth.WithLabelValues(symbol.String(), "bid").Set(float64(bids))
	telemetry.BookDepth.WithLabelValues(symbol.String(), "ask").Set(float64(asks))
}
