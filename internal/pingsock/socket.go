// Package pingsock wraps a raw ICMPv4 socket with the narrow surface the
// rest of the engine needs: connect to a destination, send bytes, receive
// bytes into a caller-supplied buffer, and set read/write timeouts
// independently (spec.md §4.1 "echo-socket abstraction").
package pingsock

import (
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/icmp"

	"github.com/Ghost-Zephyr/blues/internal/config"
)

// network is the golang.org/x/net/icmp dial network for a raw ICMPv4
// socket. This engine is IPv4-only throughout (spec.md is phrased
// exclusively in terms of "a random global-IPv4 generator" and 32-bit
// addresses), so there is no IPv6 variant to select between.
const network = "ip4:icmp"

// Socket is an ICMPv4 echo socket with a fixed send destination: every
// Send goes to dest. It is not connected at the kernel level, so Recv
// returns ICMP traffic from any host, not only from dest.
type Socket struct {
	conn *icmp.PacketConn
	dest *net.IPAddr
}

// Connect opens a new raw ICMP socket listening on 0.0.0.0 and records dest
// as its send destination; no kernel-level connect is made. If cfg carries
// a non-zero SocketTimeout, it is applied to both the read and write
// deadlines; a failure to apply it is logged and otherwise ignored
// (spec.md §4.1: "Setting a timeout is best-effort; failure is logged, not
// fatal.").
func Connect(dest net.IP, cfg *config.Config) (*Socket, error) {
	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, err
	}
	s := &Socket{conn: conn, dest: &net.IPAddr{IP: dest}}
	if cfg != nil && cfg.SocketTimeout > 0 {
		s.ApplyTimeout(cfg.SocketTimeout)
	}
	return s, nil
}

// ApplyTimeout sets both the read and write deadlines to d from now.
// Failures are logged at debug and otherwise swallowed, per spec.md §4.1.
func (s *Socket) ApplyTimeout(d time.Duration) {
	if err := s.SetReadTimeout(d); err != nil {
		slog.Debug("unable to set read timeout on socket", "error", err)
	}
	if err := s.SetWriteTimeout(d); err != nil {
		slog.Debug("unable to set write timeout on socket", "error", err)
	}
}

// SetReadTimeout sets the read deadline to d from now. d <= 0 clears the
// deadline.
func (s *Socket) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

// SetWriteTimeout sets the write deadline to d from now. d <= 0 clears the
// deadline.
func (s *Socket) SetWriteTimeout(d time.Duration) error {
	if d <= 0 {
		return s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.SetWriteDeadline(time.Now().Add(d))
}

// Send writes b to the socket's connected destination.
func (s *Socket) Send(b []byte) (int, error) {
	return s.conn.WriteTo(b, s.dest)
}

// Recv reads into buf, returning the number of bytes read. The peer is not
// checked against dest: callers that need that check
// (the scanner's listener, which multiplexes many destinations over one
// socket) read the source address out of the IPv4 header themselves.
func (s *Socket) Recv(buf []byte) (int, error) {
	n, _, err := s.conn.ReadFrom(buf)
	return n, err
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Listener opens a raw ICMP socket bound to 0.0.0.0 for draining every
// inbound Echo Reply reaching the host (spec.md §4.4 "a single dedicated
// listener"). Unlike Socket it has no send destination, and on
// Linux its underlying socket is built by hand so SO_REUSEADDR can be set
// before bind (see newListenerConn).
type Listener struct {
	conn net.PacketConn
}

// ListenAll opens the scanner's shared listener socket.
func ListenAll() (*Listener, error) {
	conn, err := newListenerConn()
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn}, nil
}

// SetReadTimeout sets the read deadline to d from now, used by the
// listener to poll for cancellation promptly (spec.md §4.4: "set a short
// read timeout (1s) so cancellation is observed promptly").
func (l *Listener) SetReadTimeout(d time.Duration) error {
	return l.conn.SetReadDeadline(time.Now().Add(d))
}

// Recv reads a raw reply (IPv4 header + ICMP header + payload) into buf.
func (l *Listener) Recv(buf []byte) (int, error) {
	n, _, err := l.conn.ReadFrom(buf)
	return n, err
}

// Close releases the listener socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
