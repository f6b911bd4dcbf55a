package pingstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ghost-Zephyr/blues/internal/wire"
)

func TestVoteFirstWinsOverMinorityDisagreement(t *testing.T) {
	// spec.md §8 scenario 3: [A,A,B,A,B,A,A] with R=7 returns A.
	a := []byte{0xA}
	b := []byte{0xB}
	payloads := [][]byte{a, a, b, a, b, a, a}
	ips := []string{"1", "2", "3", "4", "5", "6", "7"}

	got := vote(ips, payloads)
	assert.Equal(t, a, got)
}

func TestVoteTieBreakFavorsFirst(t *testing.T) {
	// spec.md §8 scenario 4: [A,B,B,B,B,B,B] returns A even though B holds
	// the majority, the documented first-wins tie-break.
	a := []byte{0xA}
	b := []byte{0xB}
	payloads := [][]byte{a, b, b, b, b, b, b}
	ips := []string{"1", "2", "3", "4", "5", "6", "7"}

	got := vote(ips, payloads)
	assert.Equal(t, a, got)
}

func TestVoteUnanimousReturnsThatValue(t *testing.T) {
	a := []byte{0xA}
	payloads := [][]byte{a, a, a, a, a, a, a}
	ips := []string{"1", "2", "3", "4", "5", "6", "7"}

	got := vote(ips, payloads)
	assert.Equal(t, a, got)
}

func TestSizeAndGroupBoundary(t *testing.T) {
	p := &PingStore{groups: make([]*replicaGroup, 3)}
	assert.Equal(t, int64(3*64), p.Size())

	_, err := p.group(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = p.group(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	g, err := p.group(2)
	assert.NoError(t, err)
	assert.Same(t, p.groups[2], g)
}

func TestEmptyStoreRejectsReadsAndWrites(t *testing.T) {
	p := &PingStore{}
	assert.Equal(t, int64(0), p.Size())

	_, err := p.ReadAt(make([]byte, 64), 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = p.WriteAt(make([]byte, 64), 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFlushIsNoop(t *testing.T) {
	p := &PingStore{}
	assert.NoError(t, p.Flush())
}

// fakeReplicaConn is a loopback stand-in for one replica socket: writes
// are stored and echoed back verbatim on the next receive, wrapped in a
// zeroed IPv4+ICMP header exactly as a real raw socket read would deliver
// it, letting TestWriteThenReadRoundTrip exercise the adapter without a
// real network.
type fakeReplicaConn struct {
	pending []byte
}

func (f *fakeReplicaConn) Send(pkt []byte) (int, error) {
	f.pending = append([]byte{}, pkt...)
	return len(pkt), nil
}

func (f *fakeReplicaConn) Recv(buf []byte) (int, error) {
	out := make([]byte, wire.IPHeaderLen+wire.HeaderLen+wire.BlockSize)
	if len(f.pending) >= wire.HeaderLen {
		copy(out[wire.IPHeaderLen+wire.HeaderLen:], f.pending[wire.HeaderLen:])
	}
	n := copy(buf, out)
	return n, nil
}

func (f *fakeReplicaConn) Close() error { return nil }

func TestWriteThenReadRoundTrip(t *testing.T) {
	// spec.md §8 scenario 6: write then read block 0 against R=7 loopback
	// echoers yields back the written payload.
	g := &replicaGroup{}
	for i := 0; i < R; i++ {
		g.ips = append(g.ips, "127.0.0.1")
		g.socks = append(g.socks, &fakeReplicaConn{})
	}
	p := &PingStore{groups: []*replicaGroup{g}}

	payload := make([]byte, wire.BlockSize)
	copy(payload, []byte("Hello, blues!"))
	for i := len("Hello, blues!"); i < len(payload); i++ {
		payload[i] = 0x66
	}

	n, err := p.WriteAt(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, wire.BlockSize)
	n, err = p.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}
