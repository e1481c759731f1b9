package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"liquidityTiers/internal/model"
)

const (
	MaxPageLimit          = 200
	defaultRequestTimeout = 15 * time.Second
	defaultRPS            = 5
	maxBodyBytes          = 32 << 20
)

// ErrSourceUnavailable covers transport failures, non-2xx responses and
// bodies that do not match the expected envelope.
var ErrSourceUnavailable = errors.New("source unavailable")

// Config controls the Horizon adapter.
type Config struct {
	Endpoint       string
	PageLimit      int
	MaxPages       int
	RequestTimeout time.Duration
	RPS            float64
}

// HorizonSource lists liquidity pools from a Horizon-style REST endpoint.
type HorizonSource struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewHorizonSource(cfg Config, client *http.Client, logger *zap.Logger) (*HorizonSource, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("source endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse source endpoint: %w", err)
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > MaxPageLimit {
		cfg.PageLimit = MaxPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HorizonSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		logger:  logger,
	}, nil
}

// FetchPools returns the pool listing verbatim. With MaxPages 1 only the
// first page is read; larger values follow the next link until an empty
// page or the cap.
func (s *HorizonSource) FetchPools(ctx context.Context) ([]model.PoolSnapshot, error) {
	next, err := s.firstPageURL()
	if err != nil {
		return nil, err
	}

	var pools []model.PoolSnapshot
	for pageNum := 1; pageNum <= s.cfg.MaxPages && next != ""; pageNum++ {
		records, nextHref, err := s.fetchPage(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNum, err)
		}
		for _, rec := range records {
			pools = append(pools, toSnapshot(rec))
		}

		s.logger.Debug("source page fetched", zap.Int("page", pageNum), zap.Int("records", len(records)))
		if len(records) < s.cfg.PageLimit || nextHref == next {
			break
		}
		next = nextHref
	}

	if pools == nil {
		pools = []model.PoolSnapshot{}
	}
	return pools, nil
}

func (s *HorizonSource) firstPageURL() (string, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse source endpoint: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.cfg.PageLimit))
	if q.Get("order") == "" {
		q.Set("order", "desc")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *HorizonSource) fetchPage(ctx context.Context, pageURL string) ([]poolRecord, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/hal+json, application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var body page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("%w: decode body: %v", ErrSourceUnavailable, err)
	}
	records, ok := body.records()
	if !ok {
		return nil, "", fmt.Errorf("%w: response has no records", ErrSourceUnavailable)
	}
	return records, body.Links.Next.Href, nil
}
