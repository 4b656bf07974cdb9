// Package sequencer reorders a per-topic stream of bus messages into
// strictly increasing sequence order, requesting retransmission of any
// gap it observes. Each topic owns one ring of the configured initial
// size, grown to at least twice its length on demand, in the spirit of
// the disruptor ring buffer: slots are indexed by offset from the next
// expected sequence rather than by absolute sequence.
package sequencer

import "github.com/wbjohnston/matchbook/internal/message"

// RetransmitRequest names one gap slot a topic's sequencer wants
// replayed: publisher/topic come from the owning stream context, so only
// the missing sequence travels on the side-channel.
type RetransmitRequest struct {
	Topic    string
	Sequence uint64
}

// defaultRingSize is used when a topic is first seen with no configured
// initial size.
const defaultRingSize = 16

// topicBuffer holds the reorder state for one topic. ring[i] holds the
// message for sequence nextExpected+i; index 0 therefore always
// corresponds to the currently missing message and is empty by
// definition until it arrives, at which point the whole ring shifts left
// by one rather than tracking a separate rotating cursor.
type topicBuffer struct {
	nextExpected uint64
	ring         []*message.Message
}

func newTopicBuffer(initialSize int) *topicBuffer {
	if initialSize <= 0 {
		initialSize = defaultRingSize
	}
	return &topicBuffer{ring: make([]*message.Message, initialSize)}
}

// grow reallocates the ring to at least 2x its current length and at
// least minLen, preserving every slot's relative offset from
// nextExpected.
func (b *topicBuffer) grow(minLen int) {
	newLen := len(b.ring) * 2
	if newLen < minLen {
		newLen = minLen
	}
	next := make([]*message.Message, newLen)
	copy(next, b.ring)
	b.ring = next
}

// advance increments nextExpected and shifts the ring left by one slot
// so the invariant ring[i] == nextExpected+i keeps holding.
func (b *topicBuffer) advance() {
	b.nextExpected++
	b.ring = append(b.ring[1:], nil)
}

// Sequencer owns one topicBuffer per topic. Per spec.md §5 it is
// single-owner: callers must not share a Sequencer across concurrent
// goroutines without external synchronization, and it suspends only at
// its caller's input/output boundaries, never internally.
type Sequencer struct {
	initialRingSize int
	topics          map[string]*topicBuffer
}

func New(initialRingSize int) *Sequencer {
	return &Sequencer{
		initialRingSize: initialRingSize,
		topics:          make(map[string]*topicBuffer),
	}
}

// Arrive feeds one message for its topic into the sequencer. It returns
// the messages now ready for emission, in order, and the retransmit
// requests this arrival generated, in emission order (missing
// nextExpected first, then increasing sequences up to but excluding the
// arriving sequence).
func (s *Sequencer) Arrive(topic string, msg message.Message) (emit []message.Message, requests []RetransmitRequest) {
	buf, ok := s.topics[topic]
	if !ok {
		buf = newTopicBuffer(s.initialRingSize)
		s.topics[topic] = buf
	}

	seq := msg.Id.Sequence

	switch {
	case seq == buf.nextExpected:
		emit = append(emit, msg)
		buf.advance()
		for buf.ring[0] != nil {
			next := *buf.ring[0]
			emit = append(emit, next)
			buf.advance()
		}
		return emit, nil

	case seq > buf.nextExpected:
		storeIdx := int(seq - buf.nextExpected)
		if storeIdx >= len(buf.ring) {
			buf.grow(storeIdx + 1)
		}
		for i := 0; i < storeIdx; i++ {
			if buf.ring[i] == nil {
				requests = append(requests, RetransmitRequest{Topic: topic, Sequence: buf.nextExpected + uint64(i)})
			}
		}
		m := msg
		buf.ring[storeIdx] = &m
		return nil, requests

	default: // seq < buf.nextExpected: late duplicate, silently dropped
		return nil, nil
	}
}
