package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker reports a target healthy when its TCP port accepts a
// connection. It says nothing about the dev server behind the port;
// the monitor uses it as a liveness fallback when the container
// runtime cannot be asked about a worker, where a successful dial is
// enough evidence to keep the session alive.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker for a host:port address with a 5s
// dial timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// NewWorkerPortChecker creates a checker for the published host port of
// a worker container. Dials are local, so the timeout is short.
func NewWorkerPortChecker(port int) *TCPChecker {
	return NewTCPChecker(fmt.Sprintf("localhost:%d", port)).WithTimeout(2 * time.Second)
}

// Check dials the address once and closes the connection immediately.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("dial %s: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("port %s accepting connections", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the dial timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
