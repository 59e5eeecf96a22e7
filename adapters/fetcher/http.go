package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// HTTPConfig holds settings shared by HTTP fetchers.
type HTTPConfig struct {
	Client    *http.Client // default: http.DefaultClient
	UserAgent string
	MaxBytes  int64 // 0 = no limit
}

// HTTP downloads a URL with GET.
type HTTP struct {
	url string
	cfg HTTPConfig

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

// NewHTTP returns a fetcher for url.
func NewHTTP(url string, cfg HTTPConfig) *HTTP {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTP{url: url, cfg: cfg}
}

func (h *HTTP) ID() string { return h.url }

// Load returns the response body of any 2xx response.  Closing it releases
// the request.  5xx and 429 responses are transient, other statuses are not.
func (h *HTTP) Load(ctx context.Context, priority core.Priority) (io.ReadCloser, error) {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return nil, apperrors.New(apperrors.CategoryFetch, "http.load", apperrors.ErrCancelled)
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		cancel()
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "http.load.request", err)
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}

	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		cancel()
		return nil, apperrors.Transient("http.load", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		err := fmt.Errorf("GET %s: unexpected status %d", h.url, resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperrors.Transient("http.load", err)
		}
		return nil, apperrors.New(apperrors.CategoryFetch, "http.load", err)
	}

	var body io.Reader = resp.Body
	if h.cfg.MaxBytes > 0 {
		body = &utils.LimitedReader{R: resp.Body, Max: h.cfg.MaxBytes}
	}
	return &responseBody{Reader: body, body: resp.Body, cancel: cancel}, nil
}

// Cancel aborts the request if it is still in flight.
func (h *HTTP) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// responseBody closes the response and releases its context together.
type responseBody struct {
	io.Reader
	body   io.Closer
	cancel context.CancelFunc
}

func (b *responseBody) Close() error {
	err := b.body.Close()
	b.cancel()
	return err
}

var _ core.Fetcher[io.ReadCloser] = (*HTTP)(nil)
