//go:build unix

package fakedev

import "golang.org/x/sys/unix"

var pageSize = unix.Getpagesize()

// alignedBuffer copies src into a freshly allocated buffer whose backing
// capacity is rounded up to the device's page size, mimicking the
// alignment real O_DIRECT-style replication devices require for the
// block-sized payloads §4.2 already zero-pads to a block-size multiple.
func alignedBuffer(src []byte) []byte {
	rounded := ((len(src) + pageSize - 1) / pageSize) * pageSize
	buf := make([]byte, rounded)
	n := copy(buf, src)
	return buf[:n]
}
