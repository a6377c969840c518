package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// TCPChecker probes that a TCP address accepts connections
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP health checker
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// NewBusChecker creates a TCP checker for the host of a ws:// or wss:// URL
func NewBusChecker(busURL string) (*TCPChecker, error) {
	u, err := url.Parse(busURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bus URL: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid bus URL %q: no host", busURL)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return NewTCPChecker(net.JoinHostPort(u.Hostname(), port)), nil
}

// Check performs the TCP health check
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}
