package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNetwork covers connection failures, non-200 responses and
	// truncated bodies.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout is a network failure where the deadline was the
	// problem. Callers treat it like ErrNetwork but it logs
	// differently.
	ErrTimeout = errors.New("download timed out")
)

const DefaultUserAgent = "gtfscache/1.0"

type FetchOptions struct {
	Timeout   time.Duration
	ChunkSize int   // copy buffer size; larger for known-large feeds
	MaxSize   int64 // 0 means unlimited
	UserAgent string
}

// A thing capable of fetching a remote feed, either streamed to disk
// (static archives) or into memory (realtime payloads).
type Downloader interface {
	FetchFile(ctx context.Context, url, dest string, options FetchOptions) (int64, error)
	Get(ctx context.Context, url string, options FetchOptions) ([]byte, error)
}

// HTTP is the production Downloader.
type HTTP struct {
	Log zerolog.Logger
}

func NewHTTP(log zerolog.Logger) *HTTP {
	return &HTTP{Log: log}
}

// FetchFile streams the response body to dest in ChunkSize pieces, so
// a multi-hundred-megabyte archive never sits in memory. On any
// failure the partial file is removed.
func (d *HTTP) FetchFile(ctx context.Context, rawURL, dest string, options FetchOptions) (int64, error) {
	resp, err := d.do(ctx, rawURL, options)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}

	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}

	var body io.Reader = resp.Body
	if options.MaxSize > 0 {
		body = io.LimitReader(resp.Body, options.MaxSize)
	}

	total, err := d.copyChunked(f, body, chunkSize)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, wrapNetErr(fmt.Errorf("reading body: %w", err))
	}
	if total == 0 {
		os.Remove(dest)
		return 0, fmt.Errorf("%w: empty response body", ErrNetwork)
	}

	d.Log.Info().
		Str("url", rawURL).
		Int64("bytes", total).
		Msg("downloaded archive")

	return total, nil
}

// Get fetches a response body into memory. Used for realtime
// payloads, which are small.
func (d *HTTP) Get(ctx context.Context, rawURL string, options FetchOptions) ([]byte, error) {
	resp, err := d.do(ctx, rawURL, options)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if options.MaxSize > 0 {
		body = io.LimitReader(resp.Body, options.MaxSize)
	}

	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, wrapNetErr(fmt.Errorf("reading body: %w", err))
	}

	return buf, nil
}

func (d *HTTP) do(ctx context.Context, rawURL string, options FetchOptions) (*http.Response, error) {
	client := &http.Client{
		Timeout: options.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	ua := options.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapNetErr(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	return resp, nil
}

// copyChunked is io.CopyBuffer with progress logging. Large archive
// downloads take minutes; the log line is the only sign of life.
func (d *HTTP) copyChunked(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	const logEvery = 50 << 20

	buf := make([]byte, chunkSize)
	var total, nextLog int64 = 0, logEvery
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if total >= nextLog {
				d.Log.Info().Int64("bytes", total).Msg("download in progress")
				nextLog += logEvery
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func wrapNetErr(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
