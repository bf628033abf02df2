// Package portdisco binds the bridge listener within a preferred port range
// and maintains the on-disk advertisement records other local processes use
// to find a running bridge.
package portdisco

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/koltyakov/plugbridge/internal/domain"
)

// DefaultRangeSize is the number of consecutive ports tried from the
// preferred one.
const DefaultRangeSize = 10

// CandidatePorts returns size consecutive ports starting at preferred,
// stopping at 65535. Port 0 (ephemeral) yields a single candidate.
func CandidatePorts(preferred, size int) []int {
	if preferred == 0 {
		return []int{0}
	}
	if size <= 0 {
		size = DefaultRangeSize
	}
	out := make([]int, 0, size)
	for p := preferred; p < preferred+size && p <= 65535; p++ {
		out = append(out, p)
	}
	return out
}

// Listen binds the first free candidate port on host. Address-in-use
// failures move on to the next candidate; any other bind error is returned
// as is. The returned port is the one actually bound.
func Listen(ctx context.Context, host string, preferred, size int) (net.Listener, int, error) {
	var lc net.ListenConfig
	var lastErr error
	for _, port := range CandidatePorts(preferred, size) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			if isAddrInUse(err) {
				lastErr = err
				continue
			}
			return nil, 0, err
		}
		bound := port
		if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
			bound = tcp.Port
		}
		return ln, bound, nil
	}
	if lastErr != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrNoPortAvailable, lastErr)
	}
	return nil, 0, domain.ErrNoPortAvailable
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
