// Package blockdev exposes a PingStore through a minimal block-adapter
// surface (spec.md §4.5.3, §6.1), narrow enough that an external NBD or
// FUSE collaborator could drive it directly.
package blockdev

import (
	"bytes"
	"fmt"
	"log/slog"
)

// Device is the block-adapter surface spec.md §4.5.3 describes:
// read_at/write_at/size/flush, nothing more. *pingstore.PingStore
// satisfies it structurally.
type Device interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Size() int64
	Flush() error
}

// SelfTest runs the nbd subcommand's default behavior (SPEC_FULL.md
// SUPPLEMENTED FEATURES): write 80 bytes at offset 0, read them back, and
// report whether the bytes compare equal, mirroring the Rust original's
// main() self-test in the absence of an actual OS attach point.
func SelfTest(d Device) error {
	const testLen = 80

	if d.Size() < testLen {
		return fmt.Errorf("blockdev: self-test needs %d bytes, device reports %d", testLen, d.Size())
	}

	want := make([]byte, testLen)
	for i := range want {
		want[i] = byte(i)
	}

	if _, err := d.WriteAt(want, 0); err != nil {
		return fmt.Errorf("blockdev: self-test write: %w", err)
	}

	got := make([]byte, testLen)
	if _, err := d.ReadAt(got, 0); err != nil {
		return fmt.Errorf("blockdev: self-test read: %w", err)
	}

	if !bytes.Equal(want, got) {
		return fmt.Errorf("blockdev: self-test mismatch: wrote %x, read %x", want, got)
	}

	slog.Info("nbd self-test passed", "bytes", testLen)
	return d.Flush()
}
