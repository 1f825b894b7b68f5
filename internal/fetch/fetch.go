// Package fetch downloads URL submissions into the job's video
// directory. The worker consumes it behind a one-method interface, so a
// smarter downloader can replace it without touching the pipeline.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// HTTPFetcher downloads submissions over plain HTTP(S). Cancellation
// comes from the request context; the client timeout is a backstop for
// jobs whose stage budget was disabled.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewHTTPFetcher builds a fetcher capped at maxBytes per download.
// Zero or negative disables the cap.
func NewHTTPFetcher(maxBytes int64, logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: 30 * time.Minute},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Fetch downloads rawURL to destPath. cookies is the submitted cookie
// file content; both Netscape browser exports and literal header
// strings are accepted. A partial download is removed before returning.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, cookies, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("bad source url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if header := CookieHeader(cookies); header != "" {
		req.Header.Set("Cookie", header)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(out, body)
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("fetch %s: exceeds %d byte limit", rawURL, f.maxBytes)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return err
	}

	f.logger.Info("video downloaded", "url", rawURL, "bytes", n, "path", destPath)
	return nil
}

// CookieHeader flattens a submitted cookie file into a Cookie header
// value. Netscape export lines (seven tab-separated fields) contribute
// name=value pairs; any other non-comment line is taken verbatim.
func CookieHeader(content string) string {
	var pairs []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Split(line, "\t"); len(fields) >= 7 {
			pairs = append(pairs, fields[5]+"="+fields[6])
			continue
		}
		pairs = append(pairs, line)
	}
	return strings.Join(pairs, "; ")
}
