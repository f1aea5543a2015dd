// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hooks

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"grimm.is/stackveil/internal/logging"
)

// Relay forwards every connection accepted on a listener to Target through
// Dialer, so both legs carry their profiles.
type Relay struct {
	Target string
	Dialer transport.StreamDialer
	Logger *logging.Logger
}

// Serve accepts until ctx is cancelled or ln fails. Open relays are closed
// before Serve returns.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	logger := r.Logger
	if logger == nil {
		logger = logging.WithComponent("relay")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handle(ctx, conn, logger)
		}()
	}
}

func (r *Relay) handle(ctx context.Context, conn net.Conn, logger *logging.Logger) {
	defer conn.Close()

	left, ok := conn.(transport.StreamConn)
	if !ok {
		logger.Warn("relay needs a stream connection", "remote", conn.RemoteAddr().String())
		return
	}

	right, err := r.Dialer.DialStream(ctx, r.Target)
	if err != nil {
		logger.Warn("relay dial failed", "target", r.Target, "error", err)
		return
	}
	defer right.Close()

	stop := context.AfterFunc(ctx, func() {
		left.Close()
		right.Close()
	})
	defer stop()

	up, down, err := relay(left, right)
	logger.Debug("relay closed", "remote", conn.RemoteAddr().String(), "up", up, "down", down, "error", err)
}

// copyOneWay copies src to dst, then half-closes both.
func copyOneWay(dst, src transport.StreamConn) (int64, error) {
	n, err := io.Copy(dst, src)
	dst.CloseWrite()
	src.CloseRead()
	return n, err
}

// relay copies in both directions and returns bytes sent left to right, bytes
// sent right to left, and the first error. Half-closed connections keep
// draining.
func relay(left, right transport.StreamConn) (int64, int64, error) {
	type res struct {
		n   int64
		err error
	}
	ch := make(chan res, 1)

	go func() {
		n, err := copyOneWay(left, right)
		ch <- res{n, err}
	}()

	up, err := copyOneWay(right, left)
	rs := <-ch
	if err == nil {
		err = rs.err
	}
	return up, rs.n, err
}
