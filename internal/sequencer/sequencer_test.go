package sequencer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wbjohnston/matchbook/internal/message"
)

func msgAt(topic string, seq uint64) message.Message {
	return message.Message{
		Id:   message.NewMessageId(message.NewServiceId(message.ServiceKindPort, 0), topic, seq),
		Kind: message.RetransmitRequest{},
	}
}

// TestGapAndNACK is scenario 3 from spec.md §8, literally: ring size 1,
// topic c1 receives sequences [0, 3, 2], then the missing 1.
func TestGapAndNACK(t *testing.T) {
	s := New(1)

	emit, reqs := s.Arrive("c1", msgAt("c1", 0))
	require.Equal(t, []message.Message{msgAt("c1", 0)}, emit)
	require.Empty(t, reqs)

	emit, reqs = s.Arrive("c1", msgAt("c1", 3))
	require.Empty(t, emit)
	require.Equal(t, []RetransmitRequest{
		{Topic: "c1", Sequence: 1},
		{Topic: "c1", Sequence: 2},
	}, reqs)

	emit, _ = s.Arrive("c1", msgAt("c1", 2))
	require.Empty(t, emit)

	emit, reqs = s.Arrive("c1", msgAt("c1", 1))
	require.Equal(t, []message.Message{msgAt("c1", 1), msgAt("c1", 2), msgAt("c1", 3)}, emit)
	require.Empty(t, reqs)
}

func TestInOrderArrivalEmitsImmediately(t *testing.T) {
	s := New(4)
	for i := uint64(0); i < 5; i++ {
		emit, reqs := s.Arrive("t", msgAt("t", i))
		require.Equal(t, []message.Message{msgAt("t", i)}, emit)
		require.Empty(t, reqs)
	}
}

// TestDeduplication: a late duplicate of an already-emitted sequence is
// silently dropped, never re-emitted.
func TestDeduplication(t *testing.T) {
	s := New(4)
	emit, _ := s.Arrive("t", msgAt("t", 0))
	require.Len(t, emit, 1)

	emit, reqs := s.Arrive("t", msgAt("t", 0))
	require.Empty(t, emit)
	require.Empty(t, reqs)
}

// TestDuplicateFillInRing: the same out-of-order sequence arriving twice
// overwrites its ring slot but is only ever emitted once.
func TestDuplicateFillInRing(t *testing.T) {
	s := New(4)
	_, _ = s.Arrive("t", msgAt("t", 2))
	_, _ = s.Arrive("t", msgAt("t", 2))

	emit, _ := s.Arrive("t", msgAt("t", 0))
	require.Equal(t, []message.Message{msgAt("t", 0)}, emit)

	emit, _ = s.Arrive("t", msgAt("t", 1))
	require.Equal(t, []message.Message{msgAt("t", 1), msgAt("t", 2)}, emit)
}

// TestSequencerGrowsPastDoubleForWideGap exercises a gap wider than twice
// the ring, so a single growth must size the ring to the gap itself.
func TestSequencerGrowsPastDoubleForWideGap(t *testing.T) {
	s := New(2)
	emit, reqs := s.Arrive("t", msgAt("t", 10))
	require.Empty(t, emit)
	require.Len(t, reqs, 10)

	var lastEmit []message.Message
	for seq := uint64(0); seq < 10; seq++ {
		lastEmit, _ = s.Arrive("t", msgAt("t", seq))
	}
	require.Equal(t, msgAt("t", 10), lastEmit[len(lastEmit)-1])
}

func TestTopicsAreIndependent(t *testing.T) {
	s := New(4)
	emitA, _ := s.Arrive("a", msgAt("a", 0))
	emitB, _ := s.Arrive("b", msgAt("b", 5))
	require.Equal(t, []message.Message{msgAt("a", 0)}, emitA)
	require.Empty(t, emitB)
}
