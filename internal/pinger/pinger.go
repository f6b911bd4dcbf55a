// Package pinger implements the single-shot echo probe (spec.md §4.2): send
// one echo, await its reply, and classify the outcome.
package pinger

import (
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Ghost-Zephyr/blues/internal/config"
	"github.com/Ghost-Zephyr/blues/internal/pingsock"
	"github.com/Ghost-Zephyr/blues/internal/wire"
)

// Result is the outcome of one probe (spec.md §4.2 step 6).
type Result struct {
	// RoundTrip is t1-t0, set whenever a reply (of any shape) was
	// received.
	RoundTrip time.Duration

	// Small is set when the remote echoed only a truncated prefix of the
	// payload, consistent with the first-quarter tolerance rule.
	Small bool

	// Corrupt is set when the reply length or payload did not match what
	// was sent.
	Corrupt bool

	// Data is the raw reply payload (the ICMP-payload-sized tail of the
	// received buffer), valid whenever Err is nil. For a reply of the wrong
	// length it holds the whole received buffer instead.
	Data []byte

	// Err carries the I/O error kind for a failed receive (spec.md §4.2
	// step 6 "If receive errored...").
	Err error
}

// Success reports whether the probe got back a usable reply: neither
// corrupt nor erroring (small replies still count as success, per
// spec.md §4.2).
func (r Result) Success() bool {
	return r.Err == nil && !r.Corrupt
}

// conn is the narrow socket surface Pinger needs. *pingsock.Socket
// satisfies it structurally; tests substitute a fake via Pinger.dial,
// mirroring the teacher's backend.Conn/MockConn seam.
type conn interface {
	Send([]byte) (int, error)
	Recv([]byte) (int, error)
	Close() error
}

// Pinger issues probes and tracks the sequence number across calls, per
// spec.md §3 "EchoPacket" (sequence starts at 0x0001, increments per
// probe, wraps to 0x0001 never 0x0000).
type Pinger struct {
	seq  uint16
	cfg  *config.Config
	dial func(net.IP, *config.Config) (conn, error)
}

// New creates a Pinger with the sequence counter at its initial value.
func New(cfg *config.Config) *Pinger {
	return &Pinger{
		seq: wire.SeqStart,
		cfg: cfg,
		dial: func(ip net.IP, cfg *config.Config) (conn, error) {
			return pingsock.Connect(ip, cfg)
		},
	}
}

// Ping sends one echo carrying payload to dest and waits for its reply,
// per the algorithm in spec.md §4.2.
func (p *Pinger) Ping(dest net.IP, payload []byte) Result {
	pkt := wire.Encode(wire.Identifier, p.seq, payload)

	sock, err := p.dial(dest, p.cfg)
	if err != nil {
		return Result{Err: err}
	}
	defer sock.Close()

	t0 := time.Now()
	if n, err := sock.Send(pkt); err != nil {
		return Result{Err: err}
	} else if n < len(pkt) {
		// The kernel almost always sends all bytes or errors; log and
		// continue per spec.md §4.2 step 3.
		logShortSend(n, len(pkt), dest)
	}
	p.seq = wire.NextSeq(p.seq)

	buf := make([]byte, wire.ReplyLen)
	n, err := sock.Recv(buf)
	t1 := time.Now()
	if err != nil {
		return Result{Err: err}
	}

	data, small, corrupt := wire.Classify(buf[:n], payload)
	return Result{RoundTrip: t1.Sub(t0), Small: small, Corrupt: corrupt, Data: data}
}

// logShortSend warns through the default log/slog logger that a send wrote
// fewer bytes than the packet held. It is a variable so it can be replaced.
var logShortSend = func(got, want int, dest net.IP) {
	slog.Warn("short echo send", "ip", dest, "sent", got, "want", want)
}

// IsTimeout reports whether err is a network timeout, the one Recv error
// kind callers routinely need to distinguish from a hard I/O failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if err == io.EOF {
		return false
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
