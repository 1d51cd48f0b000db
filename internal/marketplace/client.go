package marketplace

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketplace-sync-service/internal/config"
	"marketplace-sync-service/internal/logger"
	"marketplace-sync-service/internal/metrics"
)

// MaxPageSize is the provider's documented page size ceiling.
const MaxPageSize = 100

type accountState struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// Client wraps the marketplace list API for both seller accounts.
// Requests for one account serialize behind that account's rate limiter;
// the two accounts are independent rate-limit domains.
type Client struct {
	http     *http.Client
	accounts map[Account]*accountState
	retry    RetryPolicy
}

func NewClient(cfg config.MarketplaceConfig) (*Client, error) {
	accounts := make(map[Account]*accountState, len(cfg.Accounts))
	for name, acc := range cfg.Accounts {
		account, err := ParseAccount(name)
		if err != nil {
			return nil, fmt.Errorf("invalid account in config: %w", err)
		}
		if acc.BaseURL == "" {
			return nil, fmt.Errorf("account %s has no base_url", account)
		}
		rps := acc.RequestsPerSecond
		if rps <= 0 {
			rps = 2
		}
		accounts[account] = &accountState{
			baseURL: strings.TrimRight(acc.BaseURL, "/"),
			apiKey:  acc.APIKey,
			limiter: rate.NewLimiter(rate.Limit(rps), 1),
		}
	}

	return &Client{
		http:     &http.Client{Timeout: cfg.GetRequestTimeout()},
		accounts: accounts,
		retry:    NewRetryPolicy(cfg.Retry),
	}, nil
}

// FetchPage retrieves one page for an account, applying the rate limiter and
// the retry policy. Consumes one unit of the account's rate budget per HTTP
// attempt.
func (c *Client) FetchPage(ctx context.Context, account Account, resource ResourceType, page, pageSize int, filters map[string]string) (*PageResult, error) {
	if page < 1 {
		return nil, &FatalError{Message: fmt.Sprintf("page must be >= 1, got %d", page)}
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, &FatalError{Message: fmt.Sprintf("pageSize must be in [1, %d], got %d", MaxPageSize, pageSize)}
	}

	state, ok := c.accounts[account]
	if !ok {
		return nil, &FatalError{Message: fmt.Sprintf("account %s is not configured", account)}
	}

	var result *PageResult
	err := c.retry.Do(ctx, func() error {
		if err := state.limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := c.fetchOnce(ctx, state, account, resource, page, pageSize, filters)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) fetchOnce(ctx context.Context, state *accountState, account Account, resource ResourceType, page, pageSize int, filters map[string]string) (*PageResult, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	for k, v := range filters {
		q.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s/%s?%s", state.baseURL, resource, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FatalError{Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+state.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	metrics.RecordAPIRequest(string(account), resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, &TransientError{Status: resp.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &FatalError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var envelope listResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// A truncated body is as retryable as a dropped connection.
		return nil, &TransientError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if envelope.IsError {
		return nil, &FatalError{Status: resp.StatusCode, Message: strings.Join(envelope.Messages, "; ")}
	}

	records := envelope.Results
	for i := range records {
		records[i].Account = account
	}

	logger.Log.Debug("Fetched page",
		zap.String("account", string(account)),
		zap.String("resource", string(resource)),
		zap.Int("page", page),
		zap.Int("records", len(records)),
	)

	return &PageResult{
		Page:    page,
		Records: records,
		HasMore: len(records) == pageSize,
	}, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
