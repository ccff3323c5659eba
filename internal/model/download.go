package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/httpclient"
)

const defaultDownloadTimeout = 10 * time.Minute

// Downloader streams a model artifact into w.
type Downloader interface {
	Download(ctx context.Context, id string, w io.Writer, progress ProgressFunc) error
}

// HTTPDownloader fetches artifacts from {BaseURL}/{id}.tflite.
type HTTPDownloader struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPDownloader creates a downloader for baseURL.
func NewHTTPDownloader(baseURL string, timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &HTTPDownloader{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: httpclient.New(httpclient.Config{Timeout: timeout, Component: "model"}),
	}
}

// Download implements Downloader. Progress is reported only when the server
// announces the content length.
func (d *HTTPDownloader) Download(ctx context.Context, id string, w io.Writer, progress ProgressFunc) error {
	url := d.BaseURL + "/" + id + artifactExt
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return errors.New(fmt.Errorf("download %s: %w", id, err)).
			Component("model").
			Category(errors.CategoryDownload).
			Context("url", url).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("download %s: unexpected status %d", id, resp.StatusCode).
			Component("model").
			Category(errors.CategoryDownload).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var dst io.Writer = w
	if progress != nil && resp.ContentLength > 0 {
		dst = &progressWriter{w: w, total: resp.ContentLength, report: progress}
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return errors.New(fmt.Errorf("download %s: %w", id, err)).
			Component("model").
			Category(errors.CategoryDownload).
			Context("bytes", n).
			Build()
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return errors.Newf("download %s: truncated after %d of %d bytes", id, n, resp.ContentLength).
			Component("model").
			Category(errors.CategoryDownload).
			Build()
	}
	return nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	report  ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.report(float64(p.written) / float64(p.total))
	return n, err
}
