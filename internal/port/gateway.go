// Package port is the matchbook client gateway: it terminates TLS sessions
// speaking the FIX-style protocol in internal/fixproto, sequences multicast
// traffic addressed to each session via an internal/sequencer, and
// publishes translated client orders back onto the backbone.
package port

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wbjohnston/matchbook/internal/bus"
	"github.com/wbjohnston/matchbook/internal/config"
	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/resourceguard"
	"github.com/wbjohnston/matchbook/internal/sequencer"
	"github.com/wbjohnston/matchbook/internal/telemetry"
)

// toBusBacklog and retransmitBacklog are the channel capacities from
// spec.md §5's concurrency model: publication to the backbone must never
// silently drop a message under load, so producers block rather than
// select-default past a full channel.
const (
	toBusBacklog      = 32
	retransmitBacklog = 1024
	busReceiveTimeout = 500 * time.Millisecond
)

// Gateway is one running instance of the port service.
type Gateway struct {
	cfg       *config.Config
	serviceID message.ServiceId
	log       zerolog.Logger

	registry *registry
	busConn  *bus.Conn
	seq      *sequencer.Sequencer
	guard    *resourceguard.Guard
	tlsConf  *tls.Config

	toBus          chan message.Message
	retransmitReqs chan message.Message

	activeSessions atomic.Int64
}

func New(cfg *config.Config, serviceID message.ServiceId, busConn *bus.Conn, guard *resourceguard.Guard, tlsConf *tls.Config, logger zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:            cfg,
		serviceID:      serviceID,
		log:            logger,
		registry:       newRegistry(),
		busConn:        busConn,
		seq:            sequencer.New(cfg.SequencerInitialRingSize),
		guard:          guard,
		tlsConf:        tlsConf,
		toBus:          make(chan message.Message, toBusBacklog),
		retransmitReqs: make(chan message.Message, retransmitBacklog),
	}
}

// Run starts the multicast RX/TX loops and the TLS accept loop, blocking
// until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, listenAddr string) error {
	ln, err := tls.Listen("tcp", listenAddr, g.tlsConf)
	if err != nil {
		return fmt.Errorf("port: listening on %q: %w", listenAddr, err)
	}
	defer ln.Close()

	go g.runMulticastRX(ctx)
	go g.runMulticastTX(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	g.log.Info().Str("addr", listenAddr).Msg("port: accepting sessions")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var tlsErr tls.RecordHeaderError
			if errors.As(err, &tlsErr) {
				g.log.Warn().Err(err).Msg("port: TLS handshake failed, listener continues")
				telemetry.SessionsRejected.WithLabelValues("tls_handshake").Inc()
				continue
			}
			g.log.Warn().Err(err).Msg("port: accept failed")
			continue
		}

		if ok, reason := g.guard.ShouldAccept(); !ok {
			g.log.Warn().Str("reason", reason).Msg("port: rejecting connection under load")
			telemetry.SessionsRejected.WithLabelValues("overloaded").Inc()
			conn.Close()
			continue
		}

		if g.cfg.MaxConnections > 0 && g.activeSessions.Load() >= int64(g.cfg.MaxConnections) {
			g.log.Warn().Int("max_connections", g.cfg.MaxConnections).Msg("port: rejecting connection, at capacity")
			telemetry.SessionsRejected.WithLabelValues("max_connections").Inc()
			conn.Close()
			continue
		}

		g.activeSessions.Add(1)
		telemetry.ActiveSessions.Inc()
		sess := newSession(conn, g)
		go func() {
			defer g.activeSessions.Add(-1)
			defer telemetry.ActiveSessions.Dec()
			sess.run()
		}()
	}
}

// publishFromSession is called by an established session's inbound loop to
// forward a translated client request onto the backbone, addressed under
// the session's own participant topic with this gateway as publisher.
// seq is the FIX MsgSeqNum of the inbound frame that produced kind: per
// spec.md §6, topic = SenderCompID and sequence = the header MsgSeqNum, so
// the bus sequence is taken directly from the session protocol rather than
// assigned by the gateway.
func (g *Gateway) publishFromSession(topic string, seq uint64, kind message.MessageKind) error {
	msg := message.Message{
		Id:   message.NewMessageId(g.serviceID, topic, seq),
		Kind: kind,
	}
	g.toBus <- msg // blocks rather than drops, per spec.md §5 backpressure policy
	return nil
}

// runMulticastRX consumes the backbone, feeds each arrival through the
// sequencer, delivers emitted-in-order messages to the addressed
// participant's channel, and forwards any retransmit requests the
// sequencer raises.
func (g *Gateway) runMulticastRX(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if g.guard.ShouldPauseBusConsumption() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if allowed, delay := g.guard.AllowBusMessage(); !allowed {
			time.Sleep(delay)
			continue
		}

		msg, err := g.busConn.Receive(busReceiveTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			var decodeErr *bus.DecodeError
			if errors.As(err, &decodeErr) {
				g.log.Warn().Err(err).Msg("port: malformed datagram, dropping")
				telemetry.DatagramDecodeErrors.WithLabelValues(g.serviceID.String()).Inc()
				continue
			}
			g.log.Warn().Err(err).Msg("port: multicast receive failed")
			continue
		}

		telemetry.MessagesReceived.WithLabelValues(g.serviceID.String(), messageKindName(msg)).Inc()

		if _, isRetransmitReq := msg.Kind.(message.RetransmitRequest); isRetransmitReq {
			continue // answered by the retransmitter, not the port
		}

		emit, requests := g.seq.Arrive(msg.Id.Topic, msg)

		for _, req := range requests {
			telemetry.SequencerGapsDetected.WithLabelValues(msg.Id.Topic).Inc()
			reqMsg := message.Message{
				Id:   message.NewMessageId(msg.Id.Publisher, msg.Id.Topic, req.Sequence),
				Kind: message.RetransmitRequest{},
			}
			select {
			case g.retransmitReqs <- reqMsg:
			case <-ctx.Done():
				return
			}
			telemetry.SequencerRetransmitRequestsSent.WithLabelValues(msg.Id.Topic).Inc()
		}

		for _, out := range emit {
			ch, ok := g.registry.lookup(out.Id.Topic)
			if !ok {
				continue // no session currently subscribed to this topic
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runMulticastTX drains outbound publications queued by sessions and
// retransmit requests queued by the RX loop, publishing each to the bus.
// Retransmit requests are constructed with the gateway's own ServiceId as
// publisher per spec.md §4.5, even though the gap they name may have been
// on a stream the matching engine, not this gateway, originally published.
func (g *Gateway) runMulticastTX(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-g.toBus:
			g.publish(msg)

		case req := <-g.retransmitReqs:
			req.Id.Publisher = g.serviceID
			g.publish(req)
		}
	}
}

func (g *Gateway) publish(msg message.Message) {
	if err := g.busConn.Publish(msg); err != nil {
		g.log.Warn().Err(err).Str("id", msg.Id.String()).Msg("port: publish failed, dropping")
		return
	}
	telemetry.MessagesPublished.WithLabelValues(g.serviceID.String(), messageKindName(msg)).Inc()
}

func messageKindName(msg message.Message) string {
	switch msg.Kind.(type) {
	case message.LimitOrderSubmitRequest:
		return "LimitOrderSubmitRequest"
	case message.LimitOrderSubmitRequestAcknowledge:
		return "LimitOrderSubmitRequestAcknowledge"
	case message.Execution:
		return "Execution"
	case message.LimitOrderCancelRequest:
		return "LimitOrderCancelRequest"
	case message.LimitOrderCancelRequestAcknowledge:
		return "LimitOrderCancelRequestAcknowledge"
	case message.RetransmitRequest:
		return "RetransmitRequest"
	default:
		return "unknown"
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
