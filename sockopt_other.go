//go:build !linux

package pgasync

import (
	"syscall"
	"time"
)

// TCP_USER_TIMEOUT is a Linux socket option; on other platforms the
// setting is not applied and connect_timeout alone bounds the dial.
func tcpUserTimeoutControl(time.Duration) func(network, address string, c syscall.RawConn) error {
	return nil
}
