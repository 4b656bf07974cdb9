package retransmitter

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wbjohnston/matchbook/internal/message"
)

type fakePublisher struct {
	published []message.Message
	failNext  bool
}

func (f *fakePublisher) Publish(msg message.Message) error {
	if f.failNext {
		f.failNext = false
		return errors.New("simulated publish failure")
	}
	f.published = append(f.published, msg)
	return nil
}

func sym(t *testing.T) message.Symbol {
	t.Helper()
	s, err := message.NewSymbol("ADBE")
	require.NoError(t, err)
	return s
}

// TestFirstWriteWins is scenario 4 from spec.md §8: two distinct messages
// published under the same id, the cache must keep the first.
func TestFirstWriteWins(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, zerolog.Nop())

	id := message.NewMessageId(message.NewServiceId(message.ServiceKindPort, 0), "c1", 0)
	first := message.Message{Id: id, Kind: message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym(t)}}
	second := message.Message{Id: id, Kind: message.LimitOrderSubmitRequest{Side: message.SideAsk, Price: 200, Quantity: 5, Symbol: sym(t)}}

	r.Observe(first)
	r.Observe(second)

	r.Serve(id)
	require.Len(t, pub.published, 1)
	require.Equal(t, first, pub.published[0])
}

func TestRetransmitRequestsAreNeverCached(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, zerolog.Nop())

	id := message.NewMessageId(message.NewServiceId(message.ServiceKindPort, 0), "c1", 0)
	r.Observe(message.Message{Id: id, Kind: message.RetransmitRequest{}})
	require.Equal(t, 0, r.Len())
}

func TestUnknownIdSilentlyDropped(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, zerolog.Nop())

	unknown := message.NewMessageId(message.NewServiceId(message.ServiceKindPort, 0), "c1", 99)
	r.Serve(unknown)
	require.Empty(t, pub.published)
}

func TestIdempotentReplay(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, zerolog.Nop())

	id := message.NewMessageId(message.NewServiceId(message.ServiceKindPort, 0), "c1", 0)
	msg := message.Message{Id: id, Kind: message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym(t)}}
	r.Observe(msg)

	r.Serve(id)
	r.Serve(id)
	require.Len(t, pub.published, 2)
	require.Equal(t, pub.published[0], pub.published[1])
}

func TestServeDropsOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{failNext: true}
	r := New(pub, zerolog.Nop())

	id := message.NewMessageId(message.NewServiceId(message.ServiceKindPort, 0), "c1", 0)
	msg := message.Message{Id: id, Kind: message.LimitOrderSubmitRequest{Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym(t)}}
	r.Observe(msg)

	r.Serve(id)
	require.Empty(t, pub.published)
}
