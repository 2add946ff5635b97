package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPDownloader streams GET {BaseURL}/download.
type HTTPDownloader struct {
	BaseURL string
	Client  *http.Client
}

func (d *HTTPDownloader) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(d.BaseURL, "download"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := httpClient(d.Client).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		drain(resp.Body)
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// HTTPUploader posts each payload to {BaseURL}/upload.
type HTTPUploader struct {
	BaseURL string
	Client  *http.Client
}

func (u *HTTPUploader) Upload(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(u.BaseURL, "upload"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := httpClient(u.Client).Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upload: unexpected status %s", resp.Status)
	}
	return nil
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

// drain consumes what is left of body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
