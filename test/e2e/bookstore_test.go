//go:build e2e

// Package e2e runs the account cases against a live bookstore. Point it at a
// deployment with BOOKSTORE_BASE_URL (default https://bookstore.toolsqa.com):
//
//	go test -tags e2e ./test/e2e/...
package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theroutercompany/bookstore_e2e/internal/bookstore"
	"github.com/theroutercompany/bookstore_e2e/internal/config"
	"github.com/theroutercompany/bookstore_e2e/internal/contract"
	"github.com/theroutercompany/bookstore_e2e/internal/fixture"
	"github.com/theroutercompany/bookstore_e2e/internal/preflight"
	"github.com/theroutercompany/bookstore_e2e/internal/suite"
)

// setupRunner loads the suite configuration and skips the test when the
// service cannot be reached.
func setupRunner(t *testing.T) (*suite.Runner, *fixture.Store) {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	probe := preflight.NewChecker(&http.Client{}, cfg.BaseURL, cfg.Preflight.Path, cfg.Preflight.Timeout.AsDuration(), cfg.Client.UserAgent).
		Probe(context.Background())
	if !probe.Reachable {
		t.Skipf("bookstore unreachable at %s: %s", probe.Target, probe.Error)
	}

	client, err := bookstore.New(bookstore.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Client.Timeout.AsDuration(),
		UserAgent: cfg.Client.UserAgent,
		RateLimit: cfg.Client.RateLimit.RPS,
		Burst:     cfg.Client.RateLimit.Burst,
	})
	require.NoError(t, err)

	opts := []suite.Option{suite.WithCredentials(cfg.Positive.UserPrefix, cfg.Positive.Password)}
	if len(cfg.Suite.IgnoreKeys) > 0 {
		opts = append(opts, suite.WithNormalizers(suite.StripJSONKeys(cfg.Suite.IgnoreKeys...)))
	}
	if cfg.Contract.Enabled {
		validator, err := contract.New()
		require.NoError(t, err)
		opts = append(opts, suite.WithValidator(validator))
	}

	store := fixture.Open(cfg.Fixtures.Path)
	return suite.New(client, store, opts...), store
}

func TestCreateUserNegativeCases(t *testing.T) {
	runner, store := setupRunner(t)

	names, err := store.CaseNames()
	require.NoError(t, err)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			res := runner.RunNegativeCase(ctx, name)
			assert.Equal(t, suite.OutcomePassed, res.Outcome, "%s\n%s", res.Message, res.Diff)
		})
	}
}

func TestCreateUserAndAuthorize(t *testing.T) {
	runner, _ := setupRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := runner.RunPositiveCase(ctx)
	require.Equal(t, suite.OutcomePassed, res.Outcome, res.Message)
	assert.NotEmpty(t, res.UserName)
	assert.Len(t, res.Steps, 4)
	t.Logf("created user %s (not deleted)", res.UserName)
}
