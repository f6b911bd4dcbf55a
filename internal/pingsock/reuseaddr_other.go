//go:build !linux

package pingsock

import (
	"net"

	"golang.org/x/net/icmp"
)

// newListenerConn opens the listener socket normally; this engine doesn't
// special-case the listener's address reuse behavior on non-Linux
// platforms. *icmp.PacketConn satisfies net.PacketConn.
func newListenerConn() (net.PacketConn, error) {
	return icmp.ListenPacket(network, "0.0.0.0")
}
