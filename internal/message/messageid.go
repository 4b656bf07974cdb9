package message

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageId uniquely names one logical message on the bus: the service that
// published it, the topic it belongs to, and a sequence that is monotonic
// and dense per (Publisher, Topic). Rendered as "<publisher>.<topic>.<seq>".
type MessageId struct {
	Publisher ServiceId
	Topic     string
	Sequence  uint64
}

func NewMessageId(publisher ServiceId, topic string, sequence uint64) MessageId {
	return MessageId{Publisher: publisher, Topic: topic, Sequence: sequence}
}

func (id MessageId) String() string {
	return fmt.Sprintf("%s.%s.%d", id.Publisher, id.Topic, id.Sequence)
}

// ParseMessageId parses the "<kind>:<number>.<topic>.<seq>" rendering. The
// publisher itself contains no '.', so the topic is everything between the
// first '.' after the publisher and the final '.'-delimited sequence.
func ParseMessageId(s string) (MessageId, error) {
	lastDot := strings.LastIndex(s, ".")
	if lastDot < 0 {
		return MessageId{}, fmt.Errorf("message: malformed message id %q", s)
	}
	seqStr := s[lastDot+1:]
	rest := s[:lastDot]

	firstDot := strings.Index(rest, ".")
	if firstDot < 0 {
		return MessageId{}, fmt.Errorf("message: malformed message id %q", s)
	}
	pubStr := rest[:firstDot]
	topic := rest[firstDot+1:]
	if topic == "" {
		return MessageId{}, fmt.Errorf("message: malformed message id %q: empty topic", s)
	}

	pub, err := ParseServiceId(pubStr)
	if err != nil {
		return MessageId{}, fmt.Errorf("message: malformed message id %q: %w", s, err)
	}

	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return MessageId{}, fmt.Errorf("message: malformed message id %q: %w", s, err)
	}

	return MessageId{Publisher: pub, Topic: topic, Sequence: seq}, nil
}

func (id MessageId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageId) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
