package admission

import (
	"context"

	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/logging"
)

// UnknownIdentity is the shared bucket used when client identity resolution
// fails. Those requests pool into one budget rather than being dropped.
const UnknownIdentity = "unknown"

// GateResult is the outcome of a free tier admission check.
type GateResult struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// FreeTierGate admits or rejects unauthenticated requests to costed
// endpoints against a cumulative per-identity token budget.
//
// The ledger never decays or resets within a process lifetime, so the
// budget is effectively a one-time trial per identity per deployment.
type FreeTierGate struct {
	ledger LedgerStore
	limit  int
	gated  map[string]bool
	logger *logging.Logger
}

// NewFreeTierGate creates a gate with the given budget over the gated paths.
func NewFreeTierGate(ledger LedgerStore, limit int, gatedPaths []string, logger *logging.Logger) *FreeTierGate {
	gated := make(map[string]bool, len(gatedPaths))
	for _, p := range gatedPaths {
		gated[p] = true
	}
	return &FreeTierGate{
		ledger: ledger,
		limit:  limit,
		gated:  gated,
		logger: logger,
	}
}

// Limit returns the configured budget.
func (g *FreeTierGate) Limit() int {
	return g.limit
}

// Gated reports whether the path is subject to the budget.
func (g *FreeTierGate) Gated(path string) bool {
	return g.gated[path]
}

// Admit checks the request against the budget. Authenticated callers and
// non-gated paths are always admitted. On admission the estimated cost is
// recorded and the remaining budget reported for the client's token meter.
func (g *FreeTierGate) Admit(ctx context.Context, identity string, hasAuth bool, path string, cost int) (GateResult, error) {
	if hasAuth || !g.gated[path] {
		return GateResult{Allowed: true, Remaining: -1, Limit: g.limit}, nil
	}

	if identity == "" {
		identity = UnknownIdentity
	}

	current, err := g.ledger.Usage(ctx, identity)
	if err != nil {
		// Same stance as the rate limiter: a broken ledger store admits.
		g.logger.WithContext(ctx).WithError(err).Warn("free tier ledger unavailable, admitting")
		return GateResult{Allowed: true, Remaining: g.limit, Limit: g.limit}, nil
	}

	if current+cost > g.limit {
		g.logger.LogSecurityEvent(ctx, "free_tier_exceeded", map[string]interface{}{
			"identity": identity,
			"path":     path,
			"cost":     cost,
			"used":     current,
		})
		return GateResult{Allowed: false, Remaining: 0, Limit: g.limit}, errors.FreeTierExceeded(g.limit)
	}

	total, err := g.ledger.AddUsage(ctx, identity, cost)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).Warn("failed to record free tier usage")
		total = current + cost
	}

	remaining := g.limit - total
	if remaining < 0 {
		remaining = 0
	}
	return GateResult{Allowed: true, Remaining: remaining, Limit: g.limit}, nil
}
