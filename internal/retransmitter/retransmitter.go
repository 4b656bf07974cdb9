// Package retransmitter caches one copy of every message observed on the
// backbone and replays it on request, giving the sequencer something to
// NACK against.
package retransmitter

import (
	"github.com/rs/zerolog"

	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/telemetry"
)

// Publisher is the narrow surface retransmitter needs from a bus
// connection, so it can be tested against a fake.
type Publisher interface {
	Publish(message.Message) error
}

// Retransmitter is single-owner: one goroutine feeds it every observed
// message via Observe and every request via Serve, in arrival order.
type Retransmitter struct {
	log   zerolog.Logger
	pub   Publisher
	cache map[message.MessageId]message.Message
}

func New(pub Publisher, logger zerolog.Logger) *Retransmitter {
	return &Retransmitter{
		log:   logger,
		pub:   pub,
		cache: make(map[message.MessageId]message.Message),
	}
}

// Observe records msg under its Id if no entry exists yet. RetransmitRequest
// messages are never cached; callers should route them to Serve instead.
func (r *Retransmitter) Observe(msg message.Message) {
	if _, isRetransmitRequest := msg.Kind.(message.RetransmitRequest); isRetransmitRequest {
		return
	}
	if _, exists := r.cache[msg.Id]; exists {
		return
	}
	r.cache[msg.Id] = msg
	telemetry.RetransmitterCacheSize.Set(float64(len(r.cache)))
}

// Serve answers a RetransmitRequest naming id: the cached message is
// republished once if present, otherwise the request is silently dropped.
func (r *Retransmitter) Serve(id message.MessageId) {
	cached, ok := r.cache[id]
	if !ok {
		telemetry.RetransmitRequestsUnknown.Inc()
		return
	}
	if err := r.pub.Publish(cached); err != nil {
		r.log.Warn().Err(err).Stringer("id", id).Msg("retransmitter: publish failed, dropping")
		return
	}
	telemetry.RetransmitRequestsServed.Inc()
}

// Len reports the current cache size, mostly for tests and metrics.
func (r *Retransmitter) Len() int { return len(r.cache) }
