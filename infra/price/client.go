// Package price fetches day-ahead spot prices from the wholesale market API
// and serves them to the negative price policy.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/kilianp07/dercontrol/core/policy"
)

// DefaultURL is the wholesale market endpoint of the French TSO open API.
const DefaultURL = "https://digital.iservices.rte-france.com/open_api/wholesale_market/v2/france_power_exchanges"

// Response mirrors the wholesale market payload.
type Response struct {
	FrancePowerExchanges []struct {
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		UpdatedDate string `json:"updated_date"`
		Values      []struct {
			StartDate string  `json:"start_date"`
			EndDate   string  `json:"end_date"`
			Value     float64 `json:"value"`
			Price     float64 `json:"price"`
		} `json:"values"`
	} `json:"france_power_exchanges"`
}

// Points converts the payload into price points sorted by start time.
func (r Response) Points(fetchedAt time.Time) ([]policy.PricePoint, error) {
	var out []policy.PricePoint
	for _, ex := range r.FrancePowerExchanges {
		for _, v := range ex.Values {
			start, err := time.Parse(time.RFC3339, v.StartDate)
			if err != nil {
				return nil, fmt.Errorf("failed to parse start %q: %w", v.StartDate, err)
			}
			end, err := time.Parse(time.RFC3339, v.EndDate)
			if err != nil {
				return nil, fmt.Errorf("failed to parse end %q: %w", v.EndDate, err)
			}
			out = append(out, policy.PricePoint{Start: start, End: end, EURPerMWh: v.Price, FetchedAt: fetchedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Client queries the wholesale market API.
type Client struct {
	baseURL string
	auth    *ClientCred
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a client. A nil auth sends unauthenticated requests.
func NewClient(baseURL string, auth *ClientCred, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{baseURL: baseURL, auth: auth, http: &http.Client{Timeout: timeout}, now: time.Now}
}

// Fetch retrieves the prices between start and end.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]policy.PricePoint, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("start_date", start.Format(time.RFC3339))
	q.Set("end_date", end.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.auth != nil {
		if err := c.auth.SetAuthHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to set auth header: %w", err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized && c.auth != nil {
		c.auth.ForceRefresh()
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return r.Points(c.now())
}
