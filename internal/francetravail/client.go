package francetravail

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

	"golang.org/x/time/rate"

	"offresync/sync-service/internal/model"
)

const (
	DefaultSearchURL = "https://api.francetravail.io/partenaire/offresdemploi/v2/offres/search"

	// PageSize is the largest range the search endpoint serves per request.
	PageSize = 150
	// MaxFirstIndex is the highest first index the endpoint accepts.
	MaxFirstIndex = 1000
	// MaxLastIndex is the highest addressable result index of one query.
	MaxLastIndex = 1149
	// ResultCeiling is the number of results one query can reach.
	ResultCeiling = MaxLastIndex + 1

	// DefaultRequestInterval keeps the client around 3 requests per second.
	DefaultRequestInterval = 350 * time.Millisecond

	rangeUnit    = "offres"
	httpTimeout  = 15 * time.Second
	maxBodyBytes = 32 << 20
)

// TokenSource provides bearer tokens for the search endpoint.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	SearchURL string
	Tokens    TokenSource
	// RequestInterval is the minimum delay between two search requests;
	// zero takes DefaultRequestInterval, negative disables pacing.
	RequestInterval time.Duration
	HTTPClient      *http.Client
}

// Client issues single range-paginated requests against the search endpoint.
// One Client is shared by the whole sync pass so its limiter paces every
// request the pass makes.
type Client struct {
	searchURL string
	tokens    TokenSource
	client    *http.Client
	limiter   *rate.Limiter
}

// NewClient constructs a Client with a shared HTTP client and rate limiter.
func NewClient(cfg ClientConfig) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: httpTimeout}
	}

	limit := rate.Inf
	switch {
	case cfg.RequestInterval == 0:
		limit = rate.Every(DefaultRequestInterval)
	case cfg.RequestInterval > 0:
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		searchURL: cfg.SearchURL,
		tokens:    cfg.Tokens,
		client:    cfg.HTTPClient,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Page is one range of search results.
type Page struct {
	Items []model.RawListing
	// Total is the match count reported in Content-Range, nil when absent.
	Total *int
	// First and Last are the inclusive indexes actually requested.
	First, Last int
}

type searchResponse struct {
	Resultats []model.RawListing `json:"resultats"`
}

// ClampRange returns the inclusive [first, last] range sent for a request of
// size results starting at from. first never exceeds MaxFirstIndex, last never
// exceeds MaxLastIndex, and last >= first.
func ClampRange(from, size int) (first, last int) {
	if size < 1 {
		size = 1
	}
	first = min(max(from, 0), MaxFirstIndex)
	last = max(first, min(from+size-1, MaxLastIndex))
	return first, last
}

// FetchPage requests size results starting at index from under filters.
// The range goes in the Range header, never in the query string.
func (c *Client) FetchPage(ctx context.Context, filters url.Values, from, size int) (*Page, error) {
	first, last := ClampRange(from, size)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.searchURL
	if q := filters.Encode(); q != "" {
		reqURL += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", ErrFetchFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Range", fmt.Sprintf("%s %d-%d", rangeUnit, first, last))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http GET: %w", ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetchFailure, err)
	}

	page := &Page{
		Total: ParseContentRange(resp.Header.Get("Content-Range")),
		First: first,
		Last:  last,
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusNoContent:
		return page, nil
	case http.StatusUnauthorized:
		if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: excerpt(body)}
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: excerpt(body)}
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return page, nil
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: json unmarshal: %w", ErrFetchFailure, err)
	}
	page.Items = sr.Resultats

	return page, nil
}

// ParseContentRange extracts the total from "offres 0-149/2500". It returns
// nil when the header is absent or the total is not a number.
func ParseContentRange(header string) *int {
	_, after, ok := strings.Cut(header, "/")
	if !ok {
		return nil
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, after)
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}
