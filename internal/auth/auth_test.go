package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/wonny/vigil/internal/contracts"
)

func TestParseGrants(t *testing.T) {
	a, err := ParseGrants("jkim:risk_manager, mlee:cto,jkim:cto")
	if err != nil {
		t.Fatalf("ParseGrants: %v", err)
	}

	ctx := context.Background()
	if err := a.Authorize(ctx, "jkim", "risk_manager"); err != nil {
		t.Errorf("jkim/risk_manager denied: %v", err)
	}
	if err := a.Authorize(ctx, "jkim", "cto"); err != nil {
		t.Errorf("jkim/cto denied: %v", err)
	}
	if err := a.Authorize(ctx, "mlee", "risk_manager"); !errors.Is(err, contracts.ErrNotAuthorized) {
		t.Errorf("mlee/risk_manager: err = %v, want ErrNotAuthorized", err)
	}
	if err := a.Authorize(ctx, "unknown", "cto"); !errors.Is(err, contracts.ErrNotAuthorized) {
		t.Errorf("unknown actor: err = %v, want ErrNotAuthorized", err)
	}
}

func TestParseGrantsRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"jkim", "jkim:", ":cto"} {
		if _, err := ParseGrants(raw); err == nil {
			t.Errorf("ParseGrants(%q) accepted malformed input", raw)
		}
	}
}

func TestEmptyGrantsDenyEverything(t *testing.T) {
	a, err := ParseGrants("")
	if err != nil {
		t.Fatalf("ParseGrants: %v", err)
	}
	if err := a.Authorize(context.Background(), "anyone", "risk_manager"); err == nil {
		t.Error("empty grant table authorized an actor")
	}
}
