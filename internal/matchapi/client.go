// Package matchapi talks to the external match-state service over its HTTP
// routes. Every call is a single request; batched routes take a list of match
// IDs and answer with a map keyed by match ID.
package matchapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"match-beacon/internal/match"

	"github.com/samber/lo"
)

// Update is one entry of the batched /matches/update body. Status and
// MatchState are independent; either may be empty.
type Update struct {
	MatchID        string       `json:"matchId"`
	Status         match.Status `json:"status,omitempty"`
	WinnerPlayerID string       `json:"winnerPlayerId,omitempty"`
	MatchState     *match.State `json:"matchState,omitempty"`
}

type Client struct {
	http    *HTTPClient
	baseURL string
	secret  string
	breaker *breaker
}

func New(baseURL, secret string, timeout time.Duration) *Client {
	return newClient(NewHTTPClient(timeout), baseURL, secret)
}

func newClient(hc *HTTPClient, baseURL, secret string) *Client {
	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  strings.TrimSpace(secret),
	}
}

// WithBreaker makes the client fail fast with ErrCircuitOpen for openFor after
// threshold consecutive transport failures. Zero values disable it.
func (c *Client) WithBreaker(threshold int, openFor time.Duration) *Client {
	c.breaker = newBreaker(threshold, openFor)
	return c
}

func (c *Client) headers() map[string]string {
	if c.secret == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.secret}
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.call(op, func() error {
		code, body, err := c.http.GetJSON(ctx, endpoint, c.headers())
		if err != nil {
			return err
		}
		return decodeEnvelope(op, code, body, out)
	})
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	return c.call(op, func() error {
		code, body, err := c.http.PostJSON(ctx, c.baseURL+path, c.headers(), in)
		if err != nil {
			return err
		}
		return decodeEnvelope(op, code, body, out)
	})
}

func (c *Client) call(op string, fn func() error) error {
	if err := c.breaker.allow(); err != nil {
		metricRequests.WithLabelValues(op, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	err := fn()
	c.breaker.record(err)
	metricRequests.WithLabelValues(op, lo.Ternary(err == nil, "ok", "error")).Inc()
	return err
}

// ListMatches returns the matches in the given statuses. The filter is sent to
// the service and applied again locally.
func (c *Client) ListMatches(ctx context.Context, statuses ...match.Status) ([]match.Match, error) {
	q := url.Values{}
	for _, s := range statuses {
		q.Add("status", string(s))
	}
	var all []match.Match
	if err := c.get(ctx, "list matches", "/matches", q, &all); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return all, nil
	}
	want := make(map[match.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	out := all[:0]
	for _, m := range all {
		if _, ok := want[m.Status]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Acknowledge asks the service to generate the match's tokens and move it
// from Queuing to Waiting. Repeating it for a Waiting match is expected to be
// rejected by the service.
func (c *Client) Acknowledge(ctx context.Context, matchID string) error {
	return c.post(ctx, "acknowledge match", "/matches/acknowledge", map[string]string{"matchId": matchID}, nil)
}

func (c *Client) Readiness(ctx context.Context, matchIDs []string) (map[string]match.Readiness, error) {
	out := map[string]match.Readiness{}
	if len(matchIDs) == 0 {
		return out, nil
	}
	err := c.get(ctx, "match readiness", "/matches/readiness", idsQuery(matchIDs), &out)
	return out, err
}

func (c *Client) Tokens(ctx context.Context, matchIDs []string) (map[string][]match.Token, error) {
	out := map[string][]match.Token{}
	if len(matchIDs) == 0 {
		return out, nil
	}
	err := c.get(ctx, "match tokens", "/matches/tokens", idsQuery(matchIDs), &out)
	return out, err
}

func (c *Client) Info(ctx context.Context, matchIDs []string) (map[string]match.Info, error) {
	out := map[string]match.Info{}
	if len(matchIDs) == 0 {
		return out, nil
	}
	err := c.get(ctx, "match info", "/matches/info", idsQuery(matchIDs), &out)
	return out, err
}

func (c *Client) Update(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	body := struct {
		Updates []Update `json:"updates"`
	}{Updates: updates}
	return c.post(ctx, "update matches", "/matches/update", body, nil)
}

// ClearToken frees the admission token a player consumed for matchID. The
// service only clears tokens of Waiting matches; cleared reports whether it did.
func (c *Client) ClearToken(ctx context.Context, playerID, matchID string) (bool, error) {
	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	in := map[string]string{"playerId": playerID, "matchId": matchID}
	if err := c.post(ctx, "clear token", "/tokens/clear", in, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}

func idsQuery(ids []string) url.Values {
	return url.Values{"match_ids": []string{strings.Join(ids, ",")}}
}
