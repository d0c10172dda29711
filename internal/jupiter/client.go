// Package jupiter wraps the Jupiter v6 aggregator API with rate limiting
// and retry handling tuned for bursty snipe traffic.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/membot-trading/membot/internal/ratelimit"
	"github.com/membot-trading/membot/internal/solana"
)

// Sentinel errors callers branch on.
var (
	// ErrRateLimitExhausted: every retry attempt hit HTTP 429.
	ErrRateLimitExhausted = errors.New("jupiter: rate limit exhausted")
	// ErrUpstreamUnavailable: server errors or network failures persisted
	// through all retries.
	ErrUpstreamUnavailable = errors.New("jupiter: upstream unavailable")
	// ErrMalformedResponse: the API answered 200 with an undecodable body.
	ErrMalformedResponse = errors.New("jupiter: malformed response")
)

// Config controls the client. Zero values fall back to defaults.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	MaxRPS      float64       `yaml:"max_rps"`
	Burst       float64       `yaml:"burst"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Timeout     time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://quote-api.jup.ag/v6",
		MaxRPS:      6,
		Burst:       6,
		MaxRetries:  5,
		BackoffBase: 200 * time.Millisecond,
		Timeout:     10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.MaxRPS <= 0 {
		c.MaxRPS = d.MaxRPS
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

// Quote is one aggregator quote. Raw keeps the untouched response body so a
// follow-up swap request can echo it back verbatim.
type Quote struct {
	InputMint      solana.Pubkey
	OutputMint     solana.Pubkey
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	Raw            json.RawMessage
}

// Client is a rate-limited Jupiter API client safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	bucket     *ratelimit.Bucket

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	retryCount atomic.Int64
}

func NewClient(config Config) *Client {
	config.applyDefaults()
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		bucket:     ratelimit.NewBucket(config.MaxRPS, config.Burst),
	}
}

// Quote fetches a swap quote for amount of inputMint into outputMint.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint solana.Pubkey, amount uint64, slippageBps int) (*Quote, error) {
	c.quoteCount.Add(1)

	q := url.Values{}
	q.Set("inputMint", string(inputMint))
	q.Set("outputMint", string(outputMint))
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	endpoint := c.config.BaseURL + "/quote?" + q.Encode()

	body, err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		InputMint      string `json:"inputMint"`
		OutputMint     string `json:"outputMint"`
		InAmount       string `json:"inAmount"`
		OutAmount      string `json:"outAmount"`
		PriceImpactPct string `json:"priceImpactPct"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: quote: %v", ErrMalformedResponse, err)
	}
	inAmount, err := strconv.ParseUint(raw.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: inAmount %q", ErrMalformedResponse, raw.InAmount)
	}
	outAmount, err := strconv.ParseUint(raw.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: outAmount %q", ErrMalformedResponse, raw.OutAmount)
	}
	impact, _ := strconv.ParseFloat(raw.PriceImpactPct, 64)

	return &Quote{
		InputMint:      solana.Pubkey(raw.InputMint),
		OutputMint:     solana.Pubkey(raw.OutputMint),
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		Raw:            body,
	}, nil
}

// SwapTx builds an unsigned serialized swap transaction for a prior quote.
func (c *Client) SwapTx(ctx context.Context, quote *Quote, userPubkey solana.Pubkey) (string, error) {
	c.swapCount.Add(1)

	payload, err := json.Marshal(map[string]any{
		"quoteResponse":             quote.Raw,
		"userPublicKey":             string(userPubkey),
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	body, err := c.doWithRetry(ctx, http.MethodPost, c.config.BaseURL+"/swap", payload)
	if err != nil {
		return "", err
	}

	var res struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("%w: swap: %v", ErrMalformedResponse, err)
	}
	if res.SwapTransaction == "" {
		return "", fmt.Errorf("%w: swap response missing transaction", ErrMalformedResponse)
	}
	return res.SwapTransaction, nil
}

// doWithRetry performs one HTTP call with rate limiting, retrying 429s,
// 5xx and network errors with exponential backoff plus jitter.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var lastRateLimited bool

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.bucket.Wait(ctx, 1); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, fmt.Errorf("jupiter: build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastRateLimited = false
			c.retryCount.Add(1)
			if attempt < c.config.MaxRetries {
				c.sleepBackoff(ctx, attempt, "")
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("%w: read body: %v", ErrMalformedResponse, readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			lastRateLimited = true
			c.retryCount.Add(1)
			log.Debug().Int("attempt", attempt).Msg("jupiter: rate limited by upstream")
			// No point sleeping after the last attempt; the caller gets
			// the exhaustion error right away.
			if attempt < c.config.MaxRetries {
				c.sleepBackoff(ctx, attempt, resp.Header.Get("Retry-After"))
			}

		case resp.StatusCode >= 500:
			lastRateLimited = false
			c.retryCount.Add(1)
			if attempt < c.config.MaxRetries {
				c.sleepBackoff(ctx, attempt, "")
			}

		default:
			return nil, fmt.Errorf("jupiter: HTTP %d: %s", resp.StatusCode, truncate(body, 200))
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastRateLimited {
		return nil, ErrRateLimitExhausted
	}
	return nil, ErrUpstreamUnavailable
}

// sleepBackoff waits Retry-After when given, otherwise base*2^(attempt-1)
// plus up to 200ms of jitter.
func (c *Client) sleepBackoff(ctx context.Context, attempt int, retryAfter string) {
	var pause time.Duration
	if retryAfter != "" {
		if secs, err := strconv.ParseFloat(retryAfter, 64); err == nil && secs > 0 {
			pause = time.Duration(secs * float64(time.Second))
		}
	}
	if pause == 0 {
		pause = c.config.BackoffBase * time.Duration(1<<(attempt-1))
		pause += time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(pause):
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// ClientStats reports call counters.
type ClientStats struct {
	Quotes  int64 `json:"quotes"`
	Swaps   int64 `json:"swaps"`
	Retries int64 `json:"retries"`
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Quotes:  c.quoteCount.Load(),
		Swaps:   c.swapCount.Load(),
		Retries: c.retryCount.Load(),
	}
}
