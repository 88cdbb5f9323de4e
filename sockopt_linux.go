//go:build linux

package pgasync

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// tcpUserTimeoutControl sets TCP_USER_TIMEOUT on the socket before connect,
// bounding how long written data may sit unacknowledged before the kernel
// force-closes the connection.
func tcpUserTimeoutControl(d time.Duration) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(d.Milliseconds()))
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
