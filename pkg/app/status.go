package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/tonetuner/pkg/cost"
	"github.com/kadirpekel/tonetuner/pkg/gate"
	"github.com/kadirpekel/tonetuner/pkg/ratelimit"
)

// QuotaStatus is what a caller has left right now.
type QuotaStatus struct {
	UserID   string           `json:"user_id"`
	Gate     gate.State       `json:"gate"`
	Requests ratelimit.Status `json:"requests,omitempty"`
	Tokens   ratelimit.Status `json:"tokens,omitempty"`
}

// SystemStatus is the operator view used by `tonetuner stats` and
// GET /v1/costs.
type SystemStatus struct {
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	Store        string      `json:"store"`
	RateLimiting bool        `json:"rate_limiting"`
	Costs        *cost.Stats `json:"costs"`
}

// UserQuota reports the gate state and per-window usage for userID.
func (a *App) UserQuota(ctx context.Context, userID string) (*QuotaStatus, error) {
	st, err := a.Gate.State(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate state: %w", err)
	}

	status := &QuotaStatus{UserID: userID, Gate: st}
	if a.Limiter != nil {
		status.Requests = a.Limiter.RequestStatus(ctx, userID, a.Quota.Requests)
		status.Tokens = a.Limiter.TokenStatus(ctx, userID, a.Quota.Tokens)
	}
	return status, nil
}

// Status reports the configured backends and the cost summary.
func (a *App) Status(ctx context.Context) (*SystemStatus, error) {
	stats, err := a.Cost.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cost stats: %w", err)
	}
	return &SystemStatus{
		Provider:     a.Rewriter.Name(),
		Model:        a.Config.LLM.Model,
		Store:        a.Config.Store.Backend,
		RateLimiting: a.Limiter != nil,
		Costs:        stats,
	}, nil
}

// ResetUser clears userID's rate limit buckets, gate state and history.
func (a *App) ResetUser(ctx context.Context, userID string) error {
	var errs []error
	if a.Limiter != nil {
		errs = append(errs, a.Limiter.Reset(ctx, userID))
	}
	errs = append(errs, a.Gate.Reset(ctx, userID))
	if a.History != nil {
		errs = append(errs, a.History.Clear(ctx, userID))
	}
	return errors.Join(errs...)
}

// ResetCosts drops every recorded daily cost.
func (a *App) ResetCosts(ctx context.Context) error {
	return a.Cost.Reset(ctx)
}
