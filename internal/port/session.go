package port

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wbjohnston/matchbook/internal/fixproto"
	"github.com/wbjohnston/matchbook/internal/matchbookerr"
	"github.com/wbjohnston/matchbook/internal/message"
)

type sessionState int

const (
	stateAwaitingLogon sessionState = iota
	stateEstablished
	stateTerminated
)

// readFrameBufferSize is the buffer a single conn.Read call decodes from
// whole-cloth, per spec.md §6: the decoder consumes the entire received
// buffer per read, not a length-prefixed stream. This is a known fragility
// under coalesced TLS reads, preserved as specified (spec.md §9 open
// question 4) rather than redesigned to length-prefixed framing.
const readFrameBufferSize = 64 * 1024

// session owns one accepted, TLS-terminated client connection: an inbound
// state machine reading from the socket and an outbound state machine
// writing to it, joined by channels per spec.md §4.5 and §5.
type session struct {
	conn net.Conn
	gw   *Gateway
	log  zerolog.Logger

	participantTopic string
	inboundSeq       uint64
	outboundSeq      uint64

	limiter *rate.Limiter

	// outboundCh receives bus messages addressed to this participant, fed
	// by the gateway's multicast RX loop via the registry.
	outboundCh chan message.Message
	// senderSide carries the echoed Logon and any error Logout: written
	// through without outboundSeq rewriting, since the handler sets their
	// sequence itself.
	senderSide chan fixproto.Message

	// orderIDs resolves a client-visible OrderID (the stringified MessageId
	// stamped at acknowledgement time) back to the matching engine's own
	// order id, so a later OrderCancelRequest can be translated. Populated
	// by the outbound loop, read by the inbound loop — sync.Map avoids
	// adding another mutex for a single-key-at-a-time access pattern.
	orderIDs sync.Map // string -> message.OrderID

	outboundDone chan struct{}
}

func newSession(conn net.Conn, gw *Gateway) *session {
	return &session{
		conn:       conn,
		gw:         gw,
		log:        gw.log.With().Str("remote_addr", conn.RemoteAddr().String()).Logger(),
		inboundSeq: 1,
		limiter:    rate.NewLimiter(rate.Limit(gw.cfg.MaxInboundRate), gw.cfg.MaxInboundRate),
		outboundCh:   make(chan message.Message, 32),
		senderSide:   make(chan fixproto.Message, 8),
		outboundDone: make(chan struct{}),
	}
}

// run drives the inbound read loop to completion, then closes senderSide so
// outboundLoop drains anything already queued (notably a just-sent Logout)
// before exiting on its own. It waits for outboundLoop to actually finish
// before tearing the connection down, so a queued Logout is never raced
// against conn.Close(). Grounded on the teacher's readPump/writePump
// pairing in server.go, where readPump owns the connection's lifetime and
// writePump exits once its channel is closed behind it.
func (s *session) run() {
	go s.outboundLoop()
	s.inboundLoop()
	close(s.senderSide)
	<-s.outboundDone
	s.teardown()
}

func (s *session) teardown() {
	if s.participantTopic != "" {
		s.gw.registry.remove(s.participantTopic)
		s.gw.log.Info().Str("participant", s.participantTopic).Msg("port: session terminated, participant removed")
	}
	s.conn.Close()
}

func (s *session) inboundLoop() {
	state := stateAwaitingLogon
	for {
		msg, err := s.readFrame()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Msg("port: session read ended")
			}
			return
		}

		switch state {
		case stateAwaitingLogon:
			if msg.Header.MsgSeqNum != s.inboundSeq {
				s.sendLogout(msg.Header.SenderCompID, "sequence mismatch awaiting logon")
				return
			}
			if msg.Header.MsgType != fixproto.MsgTypeLogon {
				s.log.Warn().Str("msg_type", string(msg.Header.MsgType)).
					Msg("port: non-logon message while awaiting logon, skipping")
				continue
			}
			s.participantTopic = msg.Header.SenderCompID
			s.inboundSeq++
			s.echoLogon(msg.Header.SenderCompID)
			s.gw.registry.register(s.participantTopic, s.outboundCh)
			state = stateEstablished

		case stateEstablished:
			if msg.Header.MsgSeqNum != s.inboundSeq {
				s.sendLogout(s.participantTopic, "sequence mismatch")
				return
			}
			s.inboundSeq++

			if !s.limiter.Allow() {
				s.log.Warn().Msg("port: inbound message rate limited, dropping")
				continue
			}

			if err := s.handleInbound(msg, msg.Header.MsgSeqNum); err != nil {
				s.log.Warn().Err(err).Msg("port: failed to translate inbound message")
			}
		}
	}
}

func (s *session) handleInbound(msg fixproto.Message, seq uint64) error {
	switch msg.Header.MsgType {
	case fixproto.MsgTypeNewOrderSingle:
		if msg.NewOrderSingle == nil {
			return matchbookerr.New(matchbookerr.KindSessionDecode, errors.New("NewOrderSingle body missing"))
		}
		req, err := toInternalSubmit(msg.NewOrderSingle)
		if err != nil {
			return err
		}
		return s.gw.publishFromSession(s.participantTopic, seq, req)

	case fixproto.MsgTypeOrderCancelRequest:
		if msg.OrderCancelRequest == nil {
			return matchbookerr.New(matchbookerr.KindSessionDecode, errors.New("OrderCancelRequest body missing"))
		}
		v, ok := s.orderIDs.Load(msg.OrderCancelRequest.OrderID)
		if !ok {
			s.log.Warn().Str("order_id", msg.OrderCancelRequest.OrderID).
				Msg("port: cancel request for unrecognized order id, dropping")
			return nil
		}
		req := toInternalCancel(v.(message.OrderID))
		return s.gw.publishFromSession(s.participantTopic, seq, req)

	case fixproto.MsgTypeLogout:
		return matchbookerr.New(matchbookerr.KindSequenceMismatch, errors.New("client-initiated logout"))

	default:
		s.log.Warn().Str("msg_type", string(msg.Header.MsgType)).Msg("port: unhandled message type, dropping")
		return nil
	}
}

// outboundLoop drains the participant's addressed channel and the
// sender-side channel, writing both to the socket; sender-side frames
// bypass outboundSeq rewriting.
func (s *session) outboundLoop() {
	defer close(s.outboundDone)
	for {
		select {
		case frame, ok := <-s.senderSide:
			if !ok {
				return
			}
			if err := s.writeFrame(frame); err != nil {
				s.log.Debug().Err(err).Msg("port: sender-side write failed")
				return
			}
			if frame.Header.MsgType == fixproto.MsgTypeLogout {
				return
			}

		case msg, ok := <-s.outboundCh:
			if !ok {
				return
			}
			frame, ok := s.translateOutbound(msg)
			if !ok {
				continue
			}
			frame.Header.MsgSeqNum = s.outboundSeq
			if err := s.writeFrame(frame); err != nil {
				s.log.Debug().Err(err).Msg("port: outbound write failed")
				return
			}
			s.outboundSeq++
		}
	}
}

func (s *session) translateOutbound(msg message.Message) (fixproto.Message, bool) {
	switch kind := msg.Kind.(type) {
	case message.LimitOrderSubmitRequestAcknowledge:
		s.orderIDs.Store(msg.Id.String(), kind.Id)
		report := toExecutionReport(msg.Id, kind)
		return s.frame(fixproto.MsgTypeExecutionReport, report), true

	case message.Execution:
		report := toExecutionReportFromFill(msg.Id, kind)
		return s.frame(fixproto.MsgTypeExecutionReport, report), true

	case message.LimitOrderCancelRequestAcknowledge:
		report := fixproto.ExecutionReport{OrderID: msg.Id.String(), ExecID: msg.Id.String()}
		return s.frame(fixproto.MsgTypeExecutionReport, report), true

	default:
		return fixproto.Message{}, false
	}
}

func (s *session) frame(msgType fixproto.MsgType, execReport fixproto.ExecutionReport) fixproto.Message {
	return fixproto.Message{
		Header: fixproto.Header{
			BeginString:  fixproto.BeginString,
			MsgType:      msgType,
			SenderCompID: s.gw.cfg.ExchangeID,
			TargetCompID: s.participantTopic,
			SendingTime:  time.Now().UTC(),
		},
		ExecutionReport: &execReport,
	}
}

func (s *session) echoLogon(targetCompID string) {
	s.outboundSeq = 1
	s.senderSide <- fixproto.Message{
		Header: fixproto.Header{
			BeginString:  fixproto.BeginString,
			MsgType:      fixproto.MsgTypeLogon,
			SenderCompID: s.gw.cfg.ExchangeID,
			TargetCompID: targetCompID,
			MsgSeqNum:    1,
			SendingTime:  time.Now().UTC(),
		},
		Logon: &fixproto.Logon{},
	}
	s.outboundSeq++
}

func (s *session) sendLogout(targetCompID, reason string) {
	s.senderSide <- fixproto.Message{
		Header: fixproto.Header{
			BeginString:  fixproto.BeginString,
			MsgType:      fixproto.MsgTypeLogout,
			SenderCompID: s.gw.cfg.ExchangeID,
			TargetCompID: targetCompID,
			MsgSeqNum:    s.outboundSeq,
			SendingTime:  time.Now().UTC(),
		},
		LogoutBody: &fixproto.Logout{Text: reason},
	}
}

func (s *session) readFrame() (fixproto.Message, error) {
	buf := make([]byte, readFrameBufferSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		return fixproto.Message{}, err
	}
	var msg fixproto.Message
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		return fixproto.Message{}, matchbookerr.New(matchbookerr.KindSessionDecode, err)
	}
	return msg, nil
}

func (s *session) writeFrame(msg fixproto.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}
