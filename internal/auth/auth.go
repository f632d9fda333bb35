package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/wonny/vigil/internal/contracts"
)

// StaticAuthorizer validates actors against a fixed grant table. It is
// deliberately simple: authentication happens at the perimeter, this
// only answers "does this actor hold this role".
type StaticAuthorizer struct {
	grants map[string]map[string]bool // actor -> roles
}

// ParseGrants builds an authorizer from "actor:role" pairs separated
// by commas, e.g. "jkim:risk_manager,mlee:cto".
func ParseGrants(raw string) (*StaticAuthorizer, error) {
	grants := make(map[string]map[string]bool)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid grant %q, want actor:role", pair)
		}
		actor, role := parts[0], parts[1]
		if grants[actor] == nil {
			grants[actor] = make(map[string]bool)
		}
		grants[actor][role] = true
	}
	return &StaticAuthorizer{grants: grants}, nil
}

// Authorize implements contracts.RoleAuthorizer. An actor with no
// grant entry is denied; the table fails closed.
func (a *StaticAuthorizer) Authorize(_ context.Context, actor, role string) error {
	if a.grants[actor][role] {
		return nil
	}
	return fmt.Errorf("%w: %s does not hold role %s", contracts.ErrNotAuthorized, actor, role)
}

// AllowAll authorizes every actor. Development only.
type AllowAll struct{}

// Authorize implements contracts.RoleAuthorizer.
func (AllowAll) Authorize(_ context.Context, _, _ string) error { return nil }
