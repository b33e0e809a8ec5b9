package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mdsync/internal/domain"
	"mdsync/internal/etl"
)

// ── MDS Source ──────────────────────────────────────────────
// Fetches trips from a provider's MDS endpoint:
//   GET <url>/trips?start_time=<n>&end_time=<n>
// reading data.trips and following links.next when paging is on.

const defaultTimeout = 30 * time.Second

type mdsSource struct{}

func init() { etl.RegisterSource(&mdsSource{}) }

func (s *mdsSource) Type() string { return "mds" }

func (s *mdsSource) Open(_ context.Context, cfg *domain.ProviderConfig) (etl.Extractor, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("provider %s: url is required", cfg.Name)
	}
	return NewProviderClient(cfg), nil
}

// ProviderClient talks to one MDS provider.
type ProviderClient struct {
	BaseURL  string
	AuthType string
	Token    string
	User     string
	Password string
	Headers  map[string]string
	Delay    time.Duration
	HTTP     *http.Client
}

// NewProviderClient builds a client from the provider's client params
// (auth_type, delay, headers, url, timeout, token, user, password).
func NewProviderClient(cfg *domain.ProviderConfig) *ProviderClient {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &ProviderClient{
		BaseURL:  strings.TrimRight(cfg.URL, "/"),
		AuthType: strings.ToLower(cfg.AuthType),
		Token:    cfg.Token,
		User:     cfg.User,
		Password: cfg.Password,
		Headers:  cfg.Headers,
		Delay:    time.Duration(cfg.Delay * float64(time.Second)),
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Fetch implements etl.Extractor.
func (c *ProviderClient) Fetch(ctx context.Context, w etl.TimeWindow, paging bool) ([]etl.Record, error) {
	return c.GetTrips(ctx, w.Start, w.End, paging)
}

// tripsPage is the subset of an MDS trips response we read.
type tripsPage struct {
	Data struct {
		Trips []map[string]any `json:"trips"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// GetTrips returns every trip of [start, end), walking all pages when paging is set.
func (c *ProviderClient) GetTrips(ctx context.Context, start, end int64, paging bool) ([]etl.Record, error) {
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(start, 10))
	q.Set("end_time", strconv.FormatInt(end, 10))
	next := c.BaseURL + "/trips?" + q.Encode()

	var records []etl.Record
	for page := 0; next != ""; page++ {
		if page > 0 && c.Delay > 0 {
			select {
			case <-time.After(c.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		p, err := c.getPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, t := range p.Data.Trips {
			records = append(records, etl.Record{Data: t})
		}

		if !paging {
			break
		}
		next = p.Links.Next
	}
	return records, nil
}

func (c *ProviderClient) getPage(ctx context.Context, pageURL string) (*tripsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	switch c.AuthType {
	case domain.AuthTypeBearer:
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case domain.AuthTypeToken:
		req.Header.Set("Authorization", c.Token)
	case domain.AuthTypeHTTPBasicAuth:
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p tripsPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &p, nil
}
