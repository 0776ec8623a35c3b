// Package proxy loads rotating proxy credentials from the provider and hands them out at random.
package proxy

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// ErrNoProxy is returned by Pick when the pool holds no proxies.
var ErrNoProxy = errors.New("proxy pool is empty")

// DefaultProviderURL lists direct-mode proxies from the provider.
const DefaultProviderURL = "https://proxy.webshare.io/api/v2/proxy/list/?mode=direct&page=1&page_size=100"

const maxPageSize = 100

// Config controls where the pool fetches its credentials.
type Config struct {
	ProviderURL string
	Token       string
	PageSize    int
	// Fallback is used by Pick when the provider list is empty.
	Fallback string
}

// Pool holds the proxy addresses fetched once at startup.
type Pool struct {
	proxies  []string
	fallback string
}

type providerResponse struct {
	Results []providerEntry `json:"results"`
}

type providerEntry struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	ProxyAddress string `json:"proxy_address"`
	Port         int    `json:"port"`
}

// Load fetches the proxy list. A failed fetch is logged and yields an empty pool.
func Load(ctx context.Context, client *http.Client, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := &Pool{fallback: cfg.Fallback}
	proxies, err := fetch(ctx, client, cfg)
	if err != nil {
		logger.Warn("proxy list fetch failed", zap.Error(err), zap.Bool("fallback", cfg.Fallback != ""))
		return pool
	}
	pool.proxies = proxies
	logger.Info("proxy list loaded", zap.Int("count", len(proxies)))
	return pool
}

// NewStatic builds a pool from known addresses.
func NewStatic(proxies ...string) *Pool {
	return &Pool{proxies: append([]string(nil), proxies...)}
}

// Len reports how many provider proxies are cached.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

// Pick returns a uniformly random proxy address.
func (p *Pool) Pick() (string, error) {
	if p == nil {
		return "", ErrNoProxy
	}
	if len(p.proxies) == 0 {
		if p.fallback != "" {
			return p.fallback, nil
		}
		return "", ErrNoProxy
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.proxies))))
	if err != nil {
		return p.proxies[0], nil
	}
	return p.proxies[n.Int64()], nil
}

func fetch(ctx context.Context, client *http.Client, cfg Config) ([]string, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("proxy token is not configured")
	}
	if client == nil {
		client = http.DefaultClient
	}
	endpoint, err := providerURL(cfg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+cfg.Token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request proxy list: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body is fully consumed by the decoder
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy provider returned status %d", resp.StatusCode)
	}
	var payload providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode proxy list: %w", err)
	}
	proxies := make([]string, 0, len(payload.Results))
	for _, entry := range payload.Results {
		if entry.ProxyAddress == "" {
			continue
		}
		proxies = append(proxies, entry.address())
		if len(proxies) == maxPageSize {
			break
		}
	}
	return proxies, nil
}

func providerURL(cfg Config) (string, error) {
	raw := cfg.ProviderURL
	if raw == "" {
		raw = DefaultProviderURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse proxy provider url: %w", err)
	}
	size := cfg.PageSize
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	q := u.Query()
	q.Set("page_size", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e providerEntry) address() string {
	u := url.URL{
		Scheme: "http",
		User:   url.UserPassword(e.Username, e.Password),
		Host:   e.ProxyAddress + ":" + strconv.Itoa(e.Port),
	}
	return u.String()
}
