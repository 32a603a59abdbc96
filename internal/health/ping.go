package health

import (
	"context"
	"fmt"
)

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a Pinger to the checker interface used by the
// readiness endpoint.
type PingChecker struct {
	name string
	p    Pinger
}

// NewBrokerChecker checks the message broker connection.
func NewBrokerChecker(p Pinger) *PingChecker {
	return &PingChecker{name: "broker", p: p}
}

// NewSearchChecker checks the search cluster.
func NewSearchChecker(p Pinger) *PingChecker {
	return &PingChecker{name: "search", p: p}
}

// Name returns the dependency name.
func (c *PingChecker) Name() string {
	return c.name
}

// HealthCheck pings the dependency.
func (c *PingChecker) HealthCheck(ctx context.Context) error {
	if err := c.p.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}
