package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/promptrun/promptrun/pkg/errs"
)

// client holds the HTTP state shared by protocol adapters: base URL, bearer
// auth, and the error normalization every adapter applies. A nil HTTP client
// falls back to http.DefaultClient at call time.
type client struct {
	baseURL string
	key     string
	http    *http.Client
}

func (c *client) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}

	return http.DefaultClient
}

// post marshals payload and sends it to path. A connection-level failure is
// a transport error; a non-2xx status is a model error with the response
// body attached verbatim for diagnostics. On success the caller owns the
// returned body.
func (c *client) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Mark(errs.ErrBackendProtocol, err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Mark(errs.ErrBackendTransport, err, "build request")
	}

	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errs.Mark(errs.ErrBackendTransport, err, "%s", c.baseURL+path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, errs.New(errs.ErrBackendModel, "unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}

// postJSON sends payload to path and decodes the full response into dest.
func (c *client) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := c.post(ctx, path, payload)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := json.NewDecoder(body).Decode(dest); err != nil {
		return errs.Mark(errs.ErrBackendProtocol, err, "decode response")
	}

	return nil
}
