// Package health implements the updater's commit health gate: polling a set
// of endpoints until a quorum reports healthy or a deadline elapses.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
)

const defaultPollInterval = 250 * time.Millisecond

// Gate waits for a quorum of endpoints to report healthy.
type Gate interface {
	WaitForQuorum(ctx context.Context, endpoints []string, deadline time.Duration, quorum int) (bool, error)
}

type healthResponse struct {
	Status string `json:"status"`
}

// HTTPGate polls a fixed list of endpoints over HTTP, counting a response
// healthy when it is 2xx and its JSON body is {"status":"ok"} (case-insensitive).
type HTTPGate struct {
	client       *http.Client
	pollInterval time.Duration
}

// NewHTTPGate returns a Gate using client (or http.DefaultClient if nil) and
// the given poll interval (or a 250ms default if zero).
func NewHTTPGate(client *http.Client, pollInterval time.Duration) *HTTPGate {
	if client == nil {
		client = http.DefaultClient
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &HTTPGate{client: client, pollInterval: pollInterval}
}

// WaitForQuorum polls endpoints until quorum report healthy or deadline elapses.
func (g *HTTPGate) WaitForQuorum(ctx context.Context, endpoints []string, deadline time.Duration, quorum int) (bool, error) {
	if quorum == 0 || len(endpoints) == 0 {
		return true, nil
	}
	if quorum > len(endpoints) {
		quorum = len(endpoints)
	}

	deadlineAt := time.Now().Add(deadline)

	for {
		healthy := 0
		for _, endpoint := range endpoints {
			ok, err := g.checkOne(ctx, endpoint)
			if err != nil {
				return false, apperrors.Upstream("health check transport error", err).WithDetails("endpoint", endpoint)
			}
			if ok {
				healthy++
			}
		}
		if healthy >= quorum {
			return true, nil
		}
		if time.Now().After(deadlineAt) {
			return false, nil
		}

		timer := time.NewTimer(g.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, apperrors.Upstream("health gate cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}

// checkOne reports whether endpoint answered healthy. A transport error
// (the request couldn't be built or sent) is returned as an error rather
// than folded into false, so WaitForQuorum can tell a misconfigured or
// unreachable endpoint apart from one that is merely reporting unhealthy.
func (g *HTTPGate) checkOne(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil
	}
	return strings.EqualFold(body.Status, "ok"), nil
}

// StubGate returns a fixed result, for tests and deployments with no
// sibling services to poll.
type StubGate struct {
	Result bool
}

func (g StubGate) WaitForQuorum(context.Context, []string, time.Duration, int) (bool, error) {
	return g.Result, nil
}
