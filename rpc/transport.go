package rpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DatagramHandler processes one inbound datagram already split into its
// type, message id, and raw body. It is invoked from a fresh goroutine
// per datagram, mirroring the teacher's UDP transport dispatch model.
type DatagramHandler func(typ frameType, id MsgID, body []byte, host string, port int)

// Transport is the minimal send/receive surface Protocol needs; it is
// satisfied by UDPTransport and by fakes in tests.
type Transport interface {
	Send(data []byte, host string, port int) error
	LocalPort() int
	Close() error
}

// UDPTransport is a UDP socket read loop in the shape of the teacher's
// transport package: net.ListenPacket for interface flexibility, a
// background goroutine reading into a fixed buffer, and context-based
// shutdown.
type UDPTransport struct {
	conn    net.PacketConn
	handler DatagramHandler

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUDPTransport binds a UDP socket on port (0 for an ephemeral port)
// and starts its read loop. handler is invoked once per valid datagram;
// malformed datagrams are logged and dropped before reaching it.
func NewUDPTransport(port int, handler DatagramHandler) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("rpc: bind udp socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{conn: conn, handler: handler, ctx: ctx, cancel: cancel}
	go t.readLoop()
	return t, nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, MaxDatagramSize+1)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		host, portStr, splitErr := net.SplitHostPort(addr.String())
		if splitErr != nil {
			continue
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			continue
		}

		typ, id, body, decodeErr := decodeFrame(raw)
		if decodeErr != nil {
			logrus.WithFields(logrus.Fields{
				"package": "rpc",
				"peer":    addr.String(),
				"error":   decodeErr,
			}).Debug("dropping malformed datagram")
			continue
		}

		go t.handler(typ, id, body, host, port)
	}
}

// Send transmits a pre-encoded datagram to host:port.
func (t *UDPTransport) Send(data []byte, host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("rpc: resolve %s:%d: %w", host, port, err)
	}
	_, err = t.conn.WriteTo(data, addr)
	return err
}

// LocalPort reports the bound UDP port, useful when NewUDPTransport was
// given 0 and the kernel assigned one.
func (t *UDPTransport) LocalPort() int {
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close cancels the read loop and releases the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	return t.conn.Close()
}
