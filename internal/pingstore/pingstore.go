// Package pingstore implements the block engine: a linear block device
// backed by groups of echo endpoints, each group storing one replicated
// block and voting on read to tolerate a disagreeing replica (spec.md
// §4.5).
package pingstore

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Ghost-Zephyr/blues/internal/catalog"
	"github.com/Ghost-Zephyr/blues/internal/config"
	"github.com/Ghost-Zephyr/blues/internal/pingsock"
	"github.com/Ghost-Zephyr/blues/internal/wire"
)

// R is the fixed replica-group width (spec.md §3 "ReplicaGroup", design
// value R = 7).
const R = 7

// replicaConn is the narrow socket surface one replica member needs: send
// a block payload, receive one back, and close on teardown.
type replicaConn interface {
	Send([]byte) (int, error)
	Recv([]byte) (int, error)
	Close() error
}

// replicaGroup is a fixed-size tuple of R endpoints that together back one
// logical block (spec.md §3 "ReplicaGroup").
type replicaGroup struct {
	ips   []string
	socks []replicaConn
}

// PingStore presents a linear block device over replica groups formed
// from a catalog (spec.md §4.5).
type PingStore struct {
	mu     sync.Mutex
	groups []*replicaGroup
}

// New forms replica groups from live, non-small catalog endpoints, in
// catalog order, per spec.md §4.5 "Initialization" and §9 "small
// endpoints in PingStore" (small endpoints are filtered out before
// grouping, not degraded). Any remainder endpoints that don't fill a full
// group of R are discarded.
func New(c *catalog.Catalog, cfg *config.Config) (*PingStore, error) {
	eligible := make([]catalog.Endpoint, 0, len(c.Live))
	for _, e := range c.Live {
		if !e.Small {
			eligible = append(eligible, e)
		}
	}

	n := len(eligible) / R
	groups := make([]*replicaGroup, 0, n)
	for i := 0; i < n; i++ {
		g := &replicaGroup{}
		for j := 0; j < R; j++ {
			ep := eligible[i*R+j]
			sock, err := pingsock.Connect(ep.IP, cfg)
			if err != nil {
				closeGroups(groups)
				closeGroup(g)
				return nil, fmt.Errorf("pingstore: connecting replica %s: %w", ep.IP, err)
			}
			g.ips = append(g.ips, ep.IP.String())
			g.socks = append(g.socks, sock)
		}
		groups = append(groups, g)
	}

	return &PingStore{groups: groups}, nil
}

func closeGroups(groups []*replicaGroup) {
	for _, g := range groups {
		closeGroup(g)
	}
}

func closeGroup(g *replicaGroup) {
	for _, s := range g.socks {
		s.Close()
	}
}

// Close releases every replica socket held by the store.
func (p *PingStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	closeGroups(p.groups)
	return nil
}

// Size reports the device size in bytes: ⌊N/R⌋ × S, i.e. len(groups) × S
// since groups are already formed at ⌊N/R⌋ (spec.md §4.5 "Initialization").
func (p *PingStore) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.groups)) * wire.BlockSize
}

// ErrOutOfRange is returned when a block index falls outside the device,
// including the case of a store with fewer than R endpoints (spec.md §8
// "reports size() = 0 and rejects all reads/writes with offset ≥ 0 as
// out-of-range").
var ErrOutOfRange = fmt.Errorf("pingstore: block index out of range")

func (p *PingStore) group(blockIndex int) (*replicaGroup, error) {
	if blockIndex < 0 || blockIndex >= len(p.groups) {
		return nil, ErrOutOfRange
	}
	return p.groups[blockIndex], nil
}

// read implements spec.md §4.5.1 step 2-3: one blocking receive per
// replica, then first-wins voting (see vote).
func (p *PingStore) read(blockIndex int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.group(blockIndex)
	if err != nil {
		return nil, err
	}

	payloads := make([][]byte, len(g.socks))
	for i, sock := range g.socks {
		buf := make([]byte, wire.ReplyLen)
		n, err := sock.Recv(buf)
		if err != nil {
			return nil, fmt.Errorf("pingstore: reading replica %s: %w", g.ips[i], err)
		}
		if n < wire.IPHeaderLen+wire.HeaderLen {
			return nil, fmt.Errorf("pingstore: short read from replica %s", g.ips[i])
		}
		payload := make([]byte, wire.BlockSize)
		copy(payload, buf[wire.IPHeaderLen+wire.HeaderLen:n])
		payloads[i] = payload
	}

	return vote(g.ips, payloads), nil
}

// vote implements spec.md §4.5.1 step 3: the first payload is the
// tentative good value; a later payload that disagrees with good but
// matches the first reverts good back to the first. After one pass, every
// replica whose final payload differs from good is logged as suspicious.
// Since good starts as the first payload and only ever reverts to it, the
// result is always the first payload.
func vote(ips []string, payloads [][]byte) []byte {
	first := payloads[0]
	good := payloads[0]
	for _, data := range payloads[1:] {
		if !equal(data, good) && equal(data, first) {
			good = first
		}
	}
	for i, data := range payloads {
		if !equal(data, good) {
			slog.Warn("suspicious replica response", "ip", ips[i])
		}
	}
	return good
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ReadAt implements spec.md §4.5.1 "read_at": it reads consecutive blocks
// starting at off's block until at least len(buf) bytes are gathered,
// then copies the requested byte range — dropping any leading
// non-block-aligned residue — into buf.
func (p *PingStore) ReadAt(buf []byte, off int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	start := off / wire.BlockSize
	residue := int(off % wire.BlockSize)
	need := residue + len(buf)

	var gathered []byte
	for i := 0; len(gathered) < need; i++ {
		block, err := p.read(int(start) + i)
		if err != nil {
			return 0, err
		}
		gathered = append(gathered, block...)
	}

	n := copy(buf, gathered[residue:need])
	return n, nil
}

// write implements spec.md §4.5.2 step 1-2: build one EchoPacket carrying
// payload with sequence fixed at 0x0001 (the store does not increment
// sequence across writes, per §9), and send it to every replica in the
// group. Any I/O error aborts the write immediately.
func (p *PingStore) write(blockIndex int, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, err := p.group(blockIndex)
	if err != nil {
		return err
	}

	pkt := wire.Encode(wire.Identifier, wire.SeqStart, payload)
	for i, sock := range g.socks {
		if _, err := sock.Send(pkt); err != nil {
			return fmt.Errorf("pingstore: writing replica %s: %w", g.ips[i], err)
		}
	}
	return nil
}

// WriteAt implements spec.md §4.5.2 "write_at": partition buf into
// ⌈len(buf)/S⌉ blocks starting at off's block, and write each in turn.
func (p *PingStore) WriteAt(buf []byte, off int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	start := int(off / wire.BlockSize)

	for i := 0; i*wire.BlockSize < len(buf); i++ {
		lo := i * wire.BlockSize
		hi := lo + wire.BlockSize
		block := make([]byte, wire.BlockSize)
		if hi > len(buf) {
			hi = len(buf)
		}
		copy(block, buf[lo:hi])

		if err := p.write(start+i, block); err != nil {
			return lo, err
		}
	}
	return len(buf), nil
}

// Flush is a no-op: the store has no buffering to flush (spec.md §4.5.3,
// §9 Non-goals).
func (p *PingStore) Flush() error {
	return nil
}
