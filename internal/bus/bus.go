// Package bus implements the reliable-enough-to-build-on IPv4 multicast
// transport described in spec.md §4.1: every service binds 0.0.0.0:port
// with SO_REUSEADDR, disables multicast loopback, and joins the backbone
// group on the default interface. One UDP datagram carries exactly one
// JSON-encoded message.Message.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/wbjohnston/matchbook/internal/message"
)

// receiveBufferSize is generous relative to path MTU per spec.md §4.1.
const receiveBufferSize = 64 * 1024

// Conn is one service's handle onto the backbone: it can Publish messages
// and Receive a stream of decoded ones.
type Conn struct {
	pktConn *ipv4.PacketConn
	udp     net.PacketConn
	group   *net.UDPAddr
}

// Join binds a multicast socket on groupAddr (host:port) and joins the
// group on the default interface, with loopback disabled and SO_REUSEADDR
// set so multiple services can share the port.
func Join(groupAddr string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("bus: resolving group address %q: %w", groupAddr, err)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	listenAddr := fmt.Sprintf("0.0.0.0:%d", addr.Port)
	pc, err := lc.ListenPacket(context.Background(), "udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("bus: listening on %q: %w", listenAddr, err)
	}

	p := ipv4.NewPacketConn(pc)
	if err := p.JoinGroup(nil, &net.UDPAddr{IP: addr.IP}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("bus: joining group %q: %w", groupAddr, err)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		pc.Close()
		return nil, fmt.Errorf("bus: disabling multicast loopback: %w", err)
	}

	return &Conn{pktConn: p, udp: pc, group: addr}, nil
}

// Publish encodes msg as JSON and writes it as one datagram to the group.
// A single send failure is retried once, then logged and dropped by the
// caller — Publish itself only reports the final error.
func (c *Conn) Publish(msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encoding message %s: %w", msg.Id, err)
	}

	_, err = c.pktConn.WriteTo(data, nil, c.group)
	if err != nil {
		// retry at-most-once per spec.md §4.1
		_, err = c.pktConn.WriteTo(data, nil, c.group)
	}
	if err != nil {
		return fmt.Errorf("bus: publishing %s: %w", msg.Id, err)
	}
	return nil
}

// DecodeError wraps a datagram that failed to decode as a Message. Receive
// callers should log and continue, never stall.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("bus: decode failed: %v", e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }

// Receive reads one datagram and decodes it as a Message. A read deadline
// of readTimeout is applied so callers can select against context
// cancellation; a deadline-exceeded error is returned unwrapped so callers
// can distinguish "nothing arrived" from a real failure.
func (c *Conn) Receive(readTimeout time.Duration) (message.Message, error) {
	buf := make([]byte, receiveBufferSize)

	if readTimeout > 0 {
		_ = c.pktConn.SetReadDeadline(time.Now().Add(readTimeout))
	}

	n, _, _, err := c.pktConn.ReadFrom(buf)
	if err != nil {
		return message.Message{}, err
	}

	var msg message.Message
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		return message.Message{}, &DecodeError{Cause: err}
	}
	return msg, nil
}

func (c *Conn) Close() error {
	return c.udp.Close()
}
