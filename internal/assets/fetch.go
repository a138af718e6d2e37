package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/yuanying/md2epub/internal/book"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxRedirects        = 10
	maxAssetSize        = 64 << 20
	userAgent           = "md2epub/1.0"
)

var errTooManyRedirects = errors.New("too many redirects")

// newHTTPClient returns a client that follows redirects to their Location and
// gives up after timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

// fetchRemote downloads url. Any non-2xx final status is an error.
func fetchRemote(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, book.NewError(book.ErrAssetFetch, "fetch", url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, book.NewError(book.ErrAssetFetch, "fetch", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, book.NewError(book.ErrAssetFetch, "fetch", url, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, book.NewError(book.ErrAssetFetch, "fetch", url, err)
	}
	if len(data) > maxAssetSize {
		return nil, book.NewError(book.ErrAssetFetch, "fetch", url, fmt.Errorf("asset exceeds %d bytes", maxAssetSize))
	}
	return data, nil
}

// readLocal reads an image from the filesystem.
func readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, book.NewError(book.ErrAssetCopy, "copy", path, err)
	}
	return data, nil
}
