package datasource

import (
	"fmt"
	"strings"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// EnrichFailure is one account whose privilege detail could not be loaded.
type EnrichFailure struct {
	Username string
	Err      error
}

// EnrichError lists the accounts that failed enrichment. It is returned
// together with the accounts slice; every other requested account in that
// slice is enriched.
type EnrichError struct {
	Failures []EnrichFailure
}

func (e *EnrichError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Username, f.Err))
	}
	return fmt.Sprintf("failed to enrich %d account(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *EnrichError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// EnrichSelected copies accounts and calls load for each account named in
// usernames. The input slice is not modified. An account whose load fails is
// left as fetched and reported in an *EnrichError; the others are still
// loaded.
func EnrichSelected(accounts []models.RemoteAccount, usernames []string, load func(acct *models.RemoteAccount) error) ([]models.RemoteAccount, error) {
	wanted := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		wanted[u] = struct{}{}
	}

	out := make([]models.RemoteAccount, len(accounts))
	copy(out, accounts)
	var failures []EnrichFailure
	for i := range out {
		if _, ok := wanted[out[i].Username]; !ok {
			continue
		}
		if err := load(&out[i]); err != nil {
			out[i] = accounts[i]
			failures = append(failures, EnrichFailure{Username: out[i].Username, Err: err})
		}
	}
	if len(failures) > 0 {
		return out, &EnrichError{Failures: failures}
	}
	return out, nil
}
