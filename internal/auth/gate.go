package auth

import (
	"context"
	"errors"
)

// Decision outcomes reported to a DecisionObserver.
const (
	OutcomeAllowed         = "allowed"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeForbidden       = "forbidden"
	OutcomeUnavailable     = "unavailable"
)

// PrincipalResolver resolves an Authorization header.
type PrincipalResolver interface {
	Resolve(ctx context.Context, header string) (Principal, error)
}

// Authorizer decides whether a principal may act on a resource class.
type Authorizer interface {
	Authorize(principal Principal, res Resource, act Action) error
}

// DecisionObserver receives every gate decision, e.g. for metrics.
type DecisionObserver func(res Resource, act Action, outcome string)

// Gate composes session resolution and authorization in front of protected operations.
type Gate struct {
	resolver PrincipalResolver
	policy   Authorizer
	observe  DecisionObserver
}

// NewGate builds a Gate. observe may be nil.
func NewGate(resolver PrincipalResolver, policy Authorizer, observe DecisionObserver) *Gate {
	if observe == nil {
		observe = func(Resource, Action, string) {}
	}
	return &Gate{resolver: resolver, policy: policy, observe: observe}
}

// Check resolves header and authorizes act on res. The policy is never consulted when
// resolution fails.
func (g *Gate) Check(ctx context.Context, header string, res Resource, act Action) (Principal, error) {
	principal, err := g.resolver.Resolve(ctx, header)
	if err != nil {
		g.observe(res, act, Outcome(err))
		return Principal{}, err
	}
	if err := g.policy.Authorize(principal, res, act); err != nil {
		g.observe(res, act, OutcomeForbidden)
		return Principal{}, ErrForbidden
	}
	g.observe(res, act, OutcomeAllowed)
	return principal, nil
}

// Authenticate resolves header without a policy check; used by identity endpoints.
func (g *Gate) Authenticate(ctx context.Context, header string) (Principal, error) {
	return g.resolver.Resolve(ctx, header)
}

// Outcome classifies a gate error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAllowed
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	default:
		return OutcomeUnauthenticated
	}
}
