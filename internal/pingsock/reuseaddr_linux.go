//go:build linux

package pingsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// newListenerConn builds the shared listener's raw ICMP socket by hand and
// sets SO_REUSEADDR on it before binding, so a restarted recon run can
// rebind the listening socket promptly instead of waiting out a lingering
// bind from the previous process (spec.md §4.4 "a single dedicated
// listener"). golang.org/x/net/icmp.PacketConn exposes no hook to reach the
// fd of an already-constructed listener, so the socket has to be built the
// way the teacher's internal/backend/icmpbase/internalconn_linux.go does:
// unix.Socket, set options, unix.Bind, then hand the fd to net.FilePacketConn.
func newListenerConn() (net.PacketConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("opening raw icmp socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding raw icmp socket: %w", err)
	}

	f := os.NewFile(uintptr(fd), "icmp-listener")
	conn, err := net.FilePacketConn(f)
	// net.FilePacketConn dups fd, so the original f can be closed either way.
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("wrapping raw icmp socket: %w", err)
	}
	return conn, nil
}
