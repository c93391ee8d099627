// Package resolver implements the access-control resolver: it
// decides whether a given agent may touch a (service, account) pair, and
// separately whether that agent has the per-pair bypass flag that turns
// queue submission into immediate execution.
package resolver

import (
	"context"
	"strings"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
)

type Resolver struct {
	store store.PolicyStore
}

func New(s store.PolicyStore) *Resolver {
	return &Resolver{store: s}
}

// Allow returns nil if agentName may access (service, account), or a
// forbidden *apierr.Error otherwise. Default mode is "all" (no policy row).
func (r *Resolver) Allow(ctx context.Context, service, account, agentName string) error {
	policy, err := r.store.GetPolicy(ctx, service, account)
	if err != nil {
		return err
	}

	switch policy.Mode {
	case models.PolicyAll:
		return nil
	case models.PolicyAllowlist:
		if containsFold(policy.AgentList, agentName) {
			return nil
		}
		return apierr.Newf(apierr.Forbidden, "access-denied: %s is not allowlisted for %s/%s", agentName, service, account)
	case models.PolicyDenylist:
		if containsFold(policy.AgentList, agentName) {
			return apierr.Newf(apierr.Forbidden, "access-denied: %s is denylisted for %s/%s", agentName, service, account)
		}
		return nil
	default:
		return nil
	}
}

// Bypass reports whether agentName has bypass-auth set for (service, account).
func (r *Resolver) Bypass(ctx context.Context, service, account, agentName string) (bool, error) {
	b, err := r.store.GetBypass(ctx, service, account, agentName)
	if err != nil {
		return false, err
	}
	return b.BypassAuth, nil
}

func containsFold(list []string, target string) bool {
	for _, v := range list {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
