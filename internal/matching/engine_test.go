package matching

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wbjohnston/matchbook/internal/message"
)

func testEngine(t *testing.T, symbols ...string) *Engine {
	t.Helper()
	syms := make([]message.Symbol, 0, len(symbols))
	for _, s := range symbols {
		sym, err := message.NewSymbol(s)
		require.NoError(t, err)
		syms = append(syms, sym)
	}
	return New(message.NewServiceId(message.ServiceKindMatchingEngine, 0), syms, zerolog.Nop())
}

func executions(msgs []message.Message) []message.Execution {
	var execs []message.Execution
	for _, m := range msgs {
		if e, ok := m.Kind.(message.Execution); ok {
			execs = append(execs, e)
		}
	}
	return execs
}

// TestBasicCross is scenario 1 from spec.md §8.
func TestBasicCross(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	aliceOut := e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym})
	require.Len(t, aliceOut, 1, "resting order produces only an acknowledgement")
	ack, ok := aliceOut[0].Kind.(message.LimitOrderSubmitRequestAcknowledge)
	require.True(t, ok)
	require.Equal(t, message.SideBid, ack.Side)

	bobOut := e.Submit("bob", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 10, Symbol: sym})
	require.Len(t, bobOut, 3, "ack + 2 executions")

	execs := executions(bobOut)
	require.Len(t, execs, 2)

	var aliceExec, bobExec message.Execution
	for _, ex := range execs {
		if ex.Side == message.SideBid {
			aliceExec = ex
		} else {
			bobExec = ex
		}
	}
	require.Equal(t, message.Price(100), aliceExec.Price)
	require.Equal(t, message.Quantity(10), aliceExec.Quantity)
	require.Equal(t, message.Price(100), bobExec.Price)
	require.Equal(t, message.Quantity(10), bobExec.Quantity)
}

// TestPartialFill is scenario 2 from spec.md §8.
func TestPartialFill(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym})
	out := e.Submit("bob", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 4, Symbol: sym})

	execs := executions(out)
	require.Len(t, execs, 2)
	for _, ex := range execs {
		require.Equal(t, message.Quantity(4), ex.Quantity)
	}

	book := e.books[sym]
	require.Equal(t, message.Quantity(6), book.BestBid().RemainingQuantity)

	out2 := e.Submit("bob2", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 6, Symbol: sym})
	execs2 := executions(out2)
	require.Len(t, execs2, 2)
	for _, ex := range execs2 {
		require.Equal(t, message.Quantity(6), ex.Quantity)
	}
	require.Nil(t, book.BestBid(), "alice's order is now fully filled")
}

// TestUnknownSymbolDroppedWithoutAcknowledgement is scenario 6 from spec.md §8.
func TestUnknownSymbolDroppedWithoutAcknowledgement(t *testing.T) {
	e := testEngine(t, "ADBE")
	unknown, _ := message.NewSymbol("XXXX")

	out := e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: unknown})
	require.Empty(t, out)

	// engine continues processing subsequent messages for known symbols
	sym, _ := message.NewSymbol("ADBE")
	out2 := e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym})
	require.Len(t, out2, 1)
}

func TestConservationAcrossFills(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 105, Quantity: 7, Symbol: sym})
	out := e.Submit("bob", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 20, Symbol: sym})

	execs := executions(out)
	require.Len(t, execs, 2)
	for _, ex := range execs {
		require.LessOrEqual(t, uint64(ex.Quantity), uint64(7))
	}

	book := e.books[sym]
	require.Equal(t, message.Quantity(13), book.BestAsk().RemainingQuantity)
}

// TestPriceLegality: every execution prints at or between the two resting
// prices that crossed.
func TestPriceLegality(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 110, Quantity: 5, Symbol: sym})
	out := e.Submit("bob", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 5, Symbol: sym})

	for _, ex := range executions(out) {
		require.GreaterOrEqual(t, uint64(ex.Price), uint64(100))
		require.LessOrEqual(t, uint64(ex.Price), uint64(110))
		require.Equal(t, message.Price(110), ex.Price, "prints at the resting bid per spec.md formula")
	}
}

func TestBestBidBestAskOrdering(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	e.Submit("a", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 90, Quantity: 1, Symbol: sym})
	e.Submit("b", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 95, Quantity: 1, Symbol: sym})
	e.Submit("c", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 200, Quantity: 1, Symbol: sym})
	e.Submit("d", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 150, Quantity: 1, Symbol: sym})

	book := e.books[sym]
	require.Equal(t, message.Price(95), book.BestBid().Price)
	require.Equal(t, message.Price(150), book.BestAsk().Price)
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	out := e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym})
	ack := out[0].Kind.(message.LimitOrderSubmitRequestAcknowledge)

	cancelOut := e.Cancel("alice", message.LimitOrderCancelRequest{Id: ack.Id})
	require.Len(t, cancelOut, 1)
	_, ok := cancelOut[0].Kind.(message.LimitOrderCancelRequestAcknowledge)
	require.True(t, ok)

	book := e.books[sym]
	require.Nil(t, book.BestBid())

	// a subsequent ask no longer finds anything to cross against
	crossOut := e.Submit("bob", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 10, Symbol: sym})
	require.Empty(t, executions(crossOut))
}

func TestCancelUnknownIdDropped(t *testing.T) {
	e := testEngine(t, "ADBE")
	out := e.Cancel("alice", message.LimitOrderCancelRequest{Id: 999})
	require.Empty(t, out)
}

func TestPerTopicSequenceCountersAreMonotonic(t *testing.T) {
	e := testEngine(t, "ADBE")
	sym, _ := message.NewSymbol("ADBE")

	out1 := e.Submit("alice", message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym})
	require.Equal(t, uint64(0), out1[0].Id.Sequence)

	out2 := e.Submit("bob", message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 100, Quantity: 10, Symbol: sym})
	// bob's own ack is sequence 0 on bob's topic and his execution is
	// sequence 1; alice's execution is sequence 1 on alice's topic (her ack
	// was sequence 0).
	for _, m := range out2 {
		if m.Id.Topic == "alice" {
			require.Equal(t, uint64(1), m.Id.Sequence)
		}
		if m.Id.Topic == "bob" {
			if _, isAck := m.Kind.(message.LimitOrderSubmitRequestAcknowledge); isAck {
				require.Equal(t, uint64(0), m.Id.Sequence)
			} else {
				require.Equal(t, uint64(1), m.Id.Sequence)
			}
		}
	}
}
