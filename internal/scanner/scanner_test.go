package scanner

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ghost-Zephyr/blues/internal/config"
	"github.com/Ghost-Zephyr/blues/internal/wire"
)

func TestNextIPRejectsAlreadyTimedIPs(t *testing.T) {
	tm := newTiming()
	seen := net.ParseIP("8.8.8.8").To4()
	tm.record(seen)

	calls := 0
	nextByte := func() byte {
		calls++
		// First four bytes reproduce the already-seen IP; afterward drift
		// to a different global address.
		if calls <= 4 {
			return seen[calls-1]
		}
		return 0x01
	}

	s := New(nil)
	ip := s.nextIP(tm, Options{AllowNonGlobal: true}, nextByte)
	assert.False(t, ip.Equal(seen), "nextIP must not repeat an IP already recorded this run")
}

func TestResolveUnknownIPMarkedDead(t *testing.T) {
	s := New(nil)
	tm := newTiming()
	s.resolve(reply{ip: net.ParseIP("8.8.8.8")}, tm)
	assert.Len(t, s.dead, 1)
	assert.Len(t, s.live, 0)
}

func TestResolveCorruptAndSmallBothMarkedDead(t *testing.T) {
	ip := net.ParseIP("8.8.8.8")
	tm := newTiming()
	tm.record(ip)

	s := New(nil)
	s.resolve(reply{ip: ip, corrupt: true}, tm)
	assert.Len(t, s.dead, 1)
	assert.Len(t, s.live, 0)

	s2 := New(nil)
	tm2 := newTiming()
	tm2.record(ip)
	s2.resolve(reply{ip: ip, small: true}, tm2)
	assert.Len(t, s2.dead, 1)
	assert.Len(t, s2.live, 0)
}

func TestResolveCleanReplyMarkedLive(t *testing.T) {
	ip := net.ParseIP("8.8.8.8")
	tm := newTiming()
	tm.record(ip)

	s := New(nil)
	s.resolve(reply{ip: ip, finish: time.Now()}, tm)
	require.Len(t, s.live, 1)
	assert.True(t, s.live[0].IP.Equal(ip))
	assert.Len(t, s.dead, 0)
}

func TestHandleReplyResolvesLiveEntry(t *testing.T) {
	ip := net.IPv4(8, 8, 8, 8)
	buf := make([]byte, wire.ReplyLen)
	copy(buf[12:16], ip.To4())
	copy(buf[wire.IPHeaderLen+wire.HeaderLen:], probe)

	tm := newTiming()
	tm.record(ip)
	s := New(nil)
	s.handleReply(buf, tm)

	require.Len(t, s.live, 1)
	assert.True(t, s.live[0].IP.Equal(ip))
	assert.Len(t, s.dead, 0)
}

// fakeSendConn and fakeListener let TestMassScanEndToEnd drive the send
// and listen loops without a real raw socket. The test gives the listener
// no replies, so no reply is resolved.
type fakeSendConn struct{}

func (fakeSendConn) Send(b []byte) (int, error) { return len(b), nil }
func (fakeSendConn) Close() error               { return nil }

type fakeListener struct {
	replies [][]byte
	i       int
}

func (f *fakeListener) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeListener) Recv(buf []byte) (int, error) {
	if f.i >= len(f.replies) {
		return 0, errTimeout{}
	}
	n := copy(buf, f.replies[f.i])
	f.i++
	return n, nil
}

func (f *fakeListener) Close() error { return nil }

type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

func TestMassScanEndToEnd(t *testing.T) {
	s := New(config.New(1, 0))
	s.dialSend = func(net.IP, *config.Config) (sendConn, error) { return fakeSendConn{}, nil }

	fl := &fakeListener{}
	s.dialListen = func() (listenConn, error) { return fl, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.MassScan(ctx, Options{ThrottleMS: 1, Parallel: 2, Limit: 3, AllowNonGlobal: true})
	require.NoError(t, err)
}

// TestScannerLoopbackSameIPAllLive reproduces spec.md §8 scenario 5: ten
// replies from a single responder resolve to exactly ten live entries, all
// sharing that IP, none corrupt or small.
func TestScannerLoopbackSameIPAllLive(t *testing.T) {
	const replies = 10
	ip := net.ParseIP("127.0.0.1")

	buf := make([]byte, wire.ReplyLen)
	copy(buf[12:16], ip.To4())
	copy(buf[wire.IPHeaderLen+wire.HeaderLen:], probe)

	s := New(nil)
	tm := newTiming()
	for i := 0; i < replies; i++ {
		tm.record(ip)
		s.handleReply(buf, tm)
	}

	require.Len(t, s.live, replies)
	assert.Len(t, s.dead, 0)
	for _, ep := range s.live {
		assert.True(t, ep.IP.Equal(ip))
		assert.False(t, ep.Small)
	}
}
