// Package matching implements the price-time priority limit order book and
// continuous-fill matching engine described in spec.md §4.4. The book's two
// priority sides are heaps from the standard library's container/heap: no
// third-party priority-queue implementation appears anywhere in the
// example corpus, so this is a deliberate standard-library choice (see
// DESIGN.md).
package matching

import (
	"container/heap"

	"github.com/wbjohnston/matchbook/internal/message"
)

// LimitOrder is one resting (or in-flight) order on a book.
type LimitOrder struct {
	ID                message.OrderID
	Owner             string // topic to address acknowledgements/executions to
	Side              message.Side
	Symbol            message.Symbol
	Price             message.Price
	OriginalQuantity  message.Quantity
	RemainingQuantity message.Quantity

	insertSeq uint64 // breaks price ties in time priority
	index     int    // maintained by heap.Interface, required for heap.Remove
}

// bidHeap is a max-heap on price; insertSeq breaks ties so earlier orders at
// the same price rest ahead of later ones (time priority).
type bidHeap []*LimitOrder

func (h bidHeap) Len() int { return len(h) }
func (h bidHeap) Less(i, j int) bool {
	if h[i].Price != h[j].Price {
		return h[i].Price > h[j].Price
	}
	return h[i].insertSeq < h[j].insertSeq
}
func (h bidHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *bidHeap) Push(x any) {
	o := x.(*LimitOrder)
	o.index = len(*h)
	*h = append(*h, o)
}
func (h *bidHeap) Pop() any {
	old := *h
	n := len(old)
	o := old[n-1]
	old[n-1] = nil
	o.index = -1
	*h = old[:n-1]
	return o
}

// askHeap is a min-heap on price; same tie-break as bidHeap.
type askHeap []*LimitOrder

func (h askHeap) Len() int { return len(h) }
func (h askHeap) Less(i, j int) bool {
	if h[i].Price != h[j].Price {
		return h[i].Price < h[j].Price
	}
	return h[i].insertSeq < h[j].insertSeq
}
func (h askHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *askHeap) Push(x any) {
	o := x.(*LimitOrder)
	o.index = len(*h)
	*h = append(*h, o)
}
func (h *askHeap) Pop() any {
	old := *h
	n := len(old)
	o := old[n-1]
	old[n-1] = nil
	o.index = -1
	*h = old[:n-1]
	return o
}

// Book holds the two resting-order heaps for one symbol.
type Book struct {
	Symbol message.Symbol
	bids   bidHeap
	asks   askHeap
}

func newBook(symbol message.Symbol) *Book {
	return &Book{Symbol: symbol}
}

// BestBid returns the highest-price resting bid, or nil if the side is empty.
func (b *Book) BestBid() *LimitOrder {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// BestAsk returns the lowest-price resting ask, or nil if the side is empty.
func (b *Book) BestAsk() *LimitOrder {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

func (b *Book) push(o *LimitOrder) {
	switch o.Side {
	case message.SideBid:
		heap.Push(&b.bids, o)
	case message.SideAsk:
		heap.Push(&b.asks, o)
	}
}

// removeFilled pops o from its side's heap; callers must only call this once
// o.RemainingQuantity has reached zero.
func (b *Book) removeFilled(o *LimitOrder) {
	switch o.Side {
	case message.SideBid:
		heap.Remove(&b.bids, o.index)
	case message.SideAsk:
		heap.Remove(&b.asks, o.index)
	}
}

// cancel removes a still-resting order regardless of fill state.
func (b *Book) cancel(o *LimitOrder) {
	switch o.Side {
	case message.SideBid:
		heap.Remove(&b.bids, o.index)
	case message.SideAsk:
		heap.Remove(&b.asks, o.index)
	}
}

// Depth reports resting order counts for telemetry.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}
