package wire

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestCancelSendsCancelRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	gotKey := make(chan CancelKey, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 16)
		n, err := readFull(conn, buf)
		if err != nil || n != 16 {
			return
		}
		code := binary.BigEndian.Uint32(buf[4:8])
		if code != cancelRequestCode {
			return
		}
		gotKey <- CancelKey{
			BackendPID: binary.BigEndian.Uint32(buf[8:12]),
			SecretKey:  binary.BigEndian.Uint32(buf[12:16]),
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := CancelKey{BackendPID: 42, SecretKey: 99}
	if err := Cancel(ctx, &net.Dialer{}, "tcp", ln.Addr().String(), key); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case got := <-gotKey:
		if got != key {
			t.Errorf("server observed %+v, want %+v", got, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CancelRequest")
	}
}
