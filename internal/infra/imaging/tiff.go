// Package imaging converts remote TIFF rasters into PNG for browsers.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/image/tiff"
)

var (
	// ErrFetch covers network failures and non-2xx replies from the source.
	ErrFetch = errors.New("tiff fetch failed")
	// ErrDecode is returned when the body is not a readable TIFF.
	ErrDecode = errors.New("tiff decode failed")
	// ErrTooLarge is returned when the source exceeds the byte cap or
	// declares more pixels than the budget allows.
	ErrTooLarge = errors.New("tiff exceeds size limit")
	// ErrBlockedAddress is returned when a host resolves to a non-public address.
	ErrBlockedAddress = errors.New("address not allowed")
)

// Converter fetches a TIFF by URL and re-encodes its first image as PNG.
type Converter struct {
	HTTPClient *http.Client
	MaxBytes   int64
	MaxPixels  int64
	cache      *cache.Cache
}

const (
	defaultMaxBytes  = 50 << 20
	defaultMaxPixels = 50_000_000
)

// Result is a converted PNG; Cached reports whether it came from the cache.
type Result struct {
	PNG    []byte
	Cached bool
}

// NewConverter builds a converter whose client refuses to dial private,
// loopback or link-local addresses. A nil client gets that default.
func NewConverter(client *http.Client, timeout time.Duration, maxBytes, maxPixels int64, cacheTTL time.Duration) *Converter {
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: publicOnlyTransport(),
		}
	}
	return &Converter{
		HTTPClient: client,
		MaxBytes:   maxBytes,
		MaxPixels:  maxPixels,
		cache:      cache.New(cacheTTL, 2*cacheTTL),
	}
}

// Convert returns the PNG for rawURL, from cache when possible.
func (c *Converter) Convert(ctx context.Context, rawURL string) (Result, error) {
	if v, ok := c.cache.Get(rawURL); ok {
		return Result{PNG: v.([]byte), Cached: true}, nil
	}

	body, err := c.fetch(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}

	// the decoder allocates the full raster up front, so the declared size is
	// checked before any pixel data is touched
	cfg, err := tiff.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := c.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return Result{}, err
	}

	img, err := tiff.Decode(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("encode png: %w", err)
	}

	out := buf.Bytes()
	c.cache.SetDefault(rawURL, out)
	return Result{PNG: out}, nil
}

func (c *Converter) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: upstream status %d", ErrFetch, resp.StatusCode)
	}

	limit := c.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return body, nil
}

func (c *Converter) checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, width, height)
	}
	budget := c.MaxPixels
	if budget <= 0 {
		budget = defaultMaxPixels
	}
	if int64(width) > budget || int64(height) > budget || int64(width)*int64(height) > budget {
		return fmt.Errorf("%w: %dx%d pixels, limit %d", ErrTooLarge, width, height, budget)
	}
	return nil
}

func publicOnlyTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
				ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
			}
			return nil
		},
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}
