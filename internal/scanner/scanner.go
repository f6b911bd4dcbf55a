// Package scanner discovers well-behaved echo endpoints on the public
// Internet and records each one's round-trip time, keeping live endpoints
// in the order their replies arrive (spec.md §4.4). It decouples
// sending probes from receiving replies: a pool of sender tasks transmits
// one probe each, while a single dedicated listener drains every inbound
// Echo Reply reaching the host.
package scanner

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ghost-Zephyr/blues/internal/catalog"
	"github.com/Ghost-Zephyr/blues/internal/config"
	"github.com/Ghost-Zephyr/blues/internal/pingsock"
	"github.com/Ghost-Zephyr/blues/internal/wire"
)

// probe is the reserved pattern senders transmit: 0x66 repeated S times
// (spec.md §4.4, GLOSSARY "Probe").
var probe = func() []byte {
	b := make([]byte, wire.BlockSize)
	for i := range b {
		b[i] = 0x66
	}
	return b
}()

// Options configures one mass-scan run (spec.md §4.4, §6.1 "recon"
// subcommand).
type Options struct {
	// ThrottleMS is the minimum delay between successive probe issuances.
	ThrottleMS int

	// Parallel is the maximum number of outstanding probe tasks.
	Parallel int

	// Limit is the total number of probes this run will issue. Zero means
	// unbounded.
	Limit int

	// Rand requests randomized traversal. It is the only supported order
	// in this design, kept as a flag for interface parity with spec.md
	// §4.4 (which documents it as a no-op toggle since random is the only
	// supported order).
	Rand bool

	// AllowNonGlobal bypasses the "global only" filter on next_ip. It
	// exists purely as a test hook (spec.md §8 scenario 5, "bypassing the
	// global only filter (test hook)") so loopback/private responders can
	// be exercised without a real public scan.
	AllowNonGlobal bool

	// Progress, if non-nil, receives a snapshot after each issued probe.
	Progress func(Snapshot)
}

// Snapshot is a point-in-time view of scan progress, consumed by the
// recon-progress display (internal/progress).
type Snapshot struct {
	Issued, Live, Dead int
}

// sendConn is the narrow socket surface a sender task needs: transmit and
// close, nothing else (spec.md §4.4 "It does not attempt to receive on the
// sender socket").
type sendConn interface {
	Send([]byte) (int, error)
	Close() error
}

// listenConn is the narrow socket surface the listener loop needs.
// *pingsock.Listener satisfies it structurally.
type listenConn interface {
	SetReadTimeout(time.Duration) error
	Recv([]byte) (int, error)
	Close() error
}

// Scanner accumulates live and dead endpoints across one or more scans
// (spec.md §3 "Endpoint lifecycle").
type Scanner struct {
	cfg *config.Config

	// dialSend and dialListen are test seams mirroring internal/pinger's
	// Pinger.dial; production always uses pingsock.
	dialSend   func(net.IP, *config.Config) (sendConn, error)
	dialListen func() (listenConn, error)

	mu   sync.Mutex
	live []catalog.Endpoint
	dead []net.IP
}

// New returns an empty Scanner.
func New(cfg *config.Config) *Scanner {
	return &Scanner{
		cfg: cfg,
		dialSend: func(ip net.IP, cfg *config.Config) (sendConn, error) {
			return pingsock.Connect(ip, cfg)
		},
		dialListen: func() (listenConn, error) { return pingsock.ListenAll() },
	}
}

// Load seeds a Scanner from a previously saved catalog (spec.md §4.4
// "load").
func Load(path string, cfg *config.Config) *Scanner {
	c := catalog.Load(path)
	s := New(cfg)
	s.live, s.dead = c.Live, c.Dead
	return s
}

// LiveEndpoints implements catalog.ScannerSnapshot.
func (s *Scanner) LiveEndpoints() []catalog.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Endpoint, len(s.live))
	copy(out, s.live)
	return out
}

// timing records when a probe to an IP was issued, for RTT computation
// once the listener resolves (or fails to resolve) a reply.
type timing struct {
	mu   sync.Mutex
	at   map[string]time.Time
	seen map[string]bool
}

func newTiming() *timing {
	return &timing{at: make(map[string]time.Time), seen: make(map[string]bool)}
}

func (t *timing) record(ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.at[ip.String()] = time.Now()
	t.seen[ip.String()] = true
}

func (t *timing) has(ip net.IP) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[ip.String()]
}

func (t *timing) take(ip net.IP) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.at[ip.String()]
	return at, ok
}

// reply is what the listener resolves for each inbound Echo Reply.
type reply struct {
	ip      net.IP
	finish  time.Time
	small   bool
	corrupt bool
}

// MassScan runs the scan driver and listener concurrently, per the
// algorithm in spec.md §4.4. Each reply is resolved synchronously as it
// arrives rather than buffered for a post-drain pass: buffering would
// deadlock once a run outlasts the buffer (every handler goroutine blocked
// on a full channel, with nothing left to drain it until listen's own
// WaitGroup — which those same goroutines hold open — releases).
func (s *Scanner) MassScan(ctx context.Context, opts Options) error {
	slog.Info("starting mass scan", "limit", opts.Limit, "parallel", opts.Parallel, "rand", opts.Rand)

	listener, err := s.dialListen()
	if err != nil {
		return err
	}

	t := newTiming()
	stop := make(chan struct{})
	listenerDone := make(chan struct{})

	go s.listen(listener, t, stop, listenerDone)

	s.drive(ctx, t, opts)

	close(stop)
	<-listenerDone

	listener.Close()
	return nil
}

// drive is the scan driver loop (spec.md §4.4 "Scan driver" pseudocode).
func (s *Scanner) drive(ctx context.Context, t *timing, opts Options) {
	limiter := rate.NewLimiter(rate.Every(time.Duration(opts.ThrottleMS)*time.Millisecond), 1)
	sem := make(chan struct{}, max(opts.Parallel, 1))
	var wg sync.WaitGroup

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextByte := func() byte { return byte(rng.Intn(256)) }

	issued := 0
	for opts.Limit == 0 || issued < opts.Limit {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		ip := s.nextIP(t, opts, nextByte)
		t.record(ip)

		if err := limiter.Wait(ctx); err != nil {
			wg.Wait()
			return
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(dest net.IP) {
			defer wg.Done()
			defer func() { <-sem }()
			s.send(dest)
		}(ip)

		issued++
		if opts.Progress != nil {
			opts.Progress(s.snapshot(issued))
		}
	}
	wg.Wait()
}

// nextIP draws a random IPv4 not already probed this run (spec.md §4.4
// "next_ip rejects any IPv4 already present in timings").
func (s *Scanner) nextIP(t *timing, opts Options, nextByte func() byte) net.IP {
	for {
		var ip net.IP
		if opts.AllowNonGlobal {
			ip = wire.RandIPv4(nextByte)
		} else {
			ip = wire.RandGlobalIPv4(nextByte)
		}
		if !t.has(ip) {
			return ip
		}
	}
}

// send is one sender task: open a socket, transmit the probe, and return
// without attempting to receive (spec.md §4.4 "It does not attempt to
// receive on the sender socket").
func (s *Scanner) send(dest net.IP) {
	sock, err := s.dialSend(dest, s.cfg)
	if err != nil {
		slog.Debug("unable to open probe socket", "ip", dest, "error", err)
		return
	}
	defer sock.Close()

	pkt := wire.Encode(wire.Identifier, wire.SeqStart, probe)
	if _, err := sock.Send(pkt); err != nil {
		slog.Debug("probe send failed", "ip", dest, "error", err)
	}
}

// listen drains every inbound Echo Reply until told to stop (spec.md
// §4.4 "Listener loop").
func (s *Scanner) listen(l listenConn, t *timing, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var handlers sync.WaitGroup
	buf := make([]byte, wire.ReplyLen)

	for {
		select {
		case <-stop:
			handlers.Wait()
			return
		default:
		}

		if err := l.SetReadTimeout(time.Second); err != nil {
			slog.Debug("unable to set listener read timeout", "error", err)
		}

		n, err := l.Recv(buf)
		if err != nil {
			continue
		}

		recvd := make([]byte, n)
		copy(recvd, buf[:n])

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.handleReply(recvd, t)
		}()
	}
}

// handleReply extracts the source address and payload from a raw reply
// buffer, relative to the captured layout of a 20-byte IPv4 header
// followed by the 8-byte ICMP header (spec.md §4.4: source at bytes
// 12-15 of the IPv4 header, payload from byte 28 onward), classifies it
// against the probe pattern using the same corrupt/small rule as the
// Pinger (spec.md §4.2 step 6), and resolves it immediately.
func (s *Scanner) handleReply(buf []byte, t *timing) {
	if len(buf) < wire.IPHeaderLen {
		return
	}
	srcIP := net.IPv4(buf[12], buf[13], buf[14], buf[15])

	_, small, corrupt := wire.Classify(buf, probe)
	s.resolve(reply{ip: srcIP, finish: time.Now(), small: small, corrupt: corrupt}, t)
}

// resolve applies spec.md §4.4 "Reply handling after drain" to one
// received reply: a corrupt or small reply marks the endpoint dead;
// otherwise its round trip is recorded and it is promoted to live.
func (s *Scanner) resolve(r reply, t *timing) {
	at, known := t.take(r.ip)
	if !known {
		slog.Error("reply from IP not in this run's timings", "ip", r.ip)
		s.mu.Lock()
		s.dead = append(s.dead, r.ip)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.corrupt || r.small {
		s.dead = append(s.dead, r.ip)
		return
	}
	s.live = append(s.live, catalog.Endpoint{
		IP:        r.ip,
		RoundTrip: r.finish.Sub(at),
		Small:     false,
	})
}

func (s *Scanner) snapshot(issued int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Issued: issued, Live: len(s.live), Dead: len(s.dead)}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
