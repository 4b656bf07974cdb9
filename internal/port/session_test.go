package port

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wbjohnston/matchbook/internal/config"
	"github.com/wbjohnston/matchbook/internal/fixproto"
	"github.com/wbjohnston/matchbook/internal/message"
	"github.com/wbjohnston/matchbook/internal/resourceguard"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := &config.Config{ExchangeID: "MATCHBOOK", MaxInboundRate: 100, SequencerInitialRingSize: 16}
	guard := resourceguard.New(resourceguard.Config{
		CPURejectThreshold: 100,
		CPUPauseThreshold:  100,
		MaxBusMessageRate:  1000,
	}, zerolog.Nop())
	return New(cfg, message.NewServiceId(message.ServiceKindPort, 0), nil, guard, nil, zerolog.Nop())
}

func writeFrame(t *testing.T, conn net.Conn, msg fixproto.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func readFrame(t *testing.T, conn net.Conn) fixproto.Message {
	t.Helper()
	buf := make([]byte, 64*1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	var msg fixproto.Message
	require.NoError(t, json.Unmarshal(buf[:n], &msg))
	return msg
}

// TestSessionSequenceViolationTerminatesSession is scenario 5 from spec.md
// §8: a Logon at MsgSeqNum 1 establishes the session, then a NewOrderSingle
// arrives at MsgSeqNum 3, skipping 2 — the session must answer with a
// Logout and terminate, removing the participant from the registry.
func TestSessionSequenceViolationTerminatesSession(t *testing.T) {
	gw := testGateway(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := newSession(serverConn, gw)
	runDone := make(chan struct{})
	go func() {
		sess.run()
		close(runDone)
	}()

	writeFrame(t, clientConn, fixproto.Message{
		Header: fixproto.Header{BeginString: fixproto.BeginString, MsgType: fixproto.MsgTypeLogon, SenderCompID: "alice", MsgSeqNum: 1},
		Logon:  &fixproto.Logon{},
	})

	echoed := readFrame(t, clientConn)
	require.Equal(t, fixproto.MsgTypeLogon, echoed.Header.MsgType)

	_, ok := gw.registry.lookup("alice")
	require.True(t, ok, "participant registered after logon")

	// skip sequence 2, jump straight to 3
	writeFrame(t, clientConn, fixproto.Message{
		Header:         fixproto.Header{BeginString: fixproto.BeginString, MsgType: fixproto.MsgTypeNewOrderSingle, SenderCompID: "alice", MsgSeqNum: 3},
		NewOrderSingle: &fixproto.NewOrderSingle{Symbol: "ADBE", OrderQty: 1, Price: 100},
	})

	logout := readFrame(t, clientConn)
	require.Equal(t, fixproto.MsgTypeLogout, logout.Header.MsgType)

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after sequence violation")
	}

	_, ok = gw.registry.lookup("alice")
	require.False(t, ok, "participant removed once session terminates")
}

// TestSessionOrderSubmitRoundTrip exercises logon, a NewOrderSingle that
// the session forwards onto the gateway's toBus channel, and an
// acknowledgement delivered back through the registered participant
// channel, translated into an ExecutionReport.
func TestSessionOrderSubmitRoundTrip(t *testing.T) {
	gw := testGateway(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := newSession(serverConn, gw)
	go sess.run()

	writeFrame(t, clientConn, fixproto.Message{
		Header: fixproto.Header{BeginString: fixproto.BeginString, MsgType: fixproto.MsgTypeLogon, SenderCompID: "alice", MsgSeqNum: 1},
		Logon:  &fixproto.Logon{},
	})
	readFrame(t, clientConn) // echoed logon

	writeFrame(t, clientConn, fixproto.Message{
		Header:         fixproto.Header{BeginString: fixproto.BeginString, MsgType: fixproto.MsgTypeNewOrderSingle, SenderCompID: "alice", MsgSeqNum: 2},
		NewOrderSingle: &fixproto.NewOrderSingle{Symbol: "ADBE", OrderQty: 10, Price: 100},
	})

	select {
	case published := <-gw.toBus:
		req, ok := published.Kind.(message.LimitOrderSubmitRequest)
		require.True(t, ok)
		require.Equal(t, message.SideBid, req.Side)
		require.Equal(t, uint64(2), published.Id.Sequence, "bus sequence mirrors the FIX MsgSeqNum")
	case <-time.After(2 * time.Second):
		t.Fatal("submission never reached the bus channel")
	}

	sym, _ := message.NewSymbol("ADBE")
	ack := message.LimitOrderSubmitRequestAcknowledge{Id: 1, Side: message.SideBid, Price: 100, Quantity: 10, Symbol: sym}
	ackMsg := message.Message{
		Id:   message.NewMessageId(message.NewServiceId(message.ServiceKindMatchingEngine, 0), "alice", 0),
		Kind: ack,
	}

	ch, ok := gw.registry.lookup("alice")
	require.True(t, ok)
	ch <- ackMsg

	report := readFrame(t, clientConn)
	require.Equal(t, fixproto.MsgTypeExecutionReport, report.Header.MsgType)
	require.Equal(t, ackMsg.Id.String(), report.ExecutionReport.OrderID)
}
