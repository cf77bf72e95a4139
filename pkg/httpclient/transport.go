package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Transport adapts a Client to http.RoundTripper so libraries that take an
// *http.Client (golang.org/x/oauth2 among them) get the same retry
// behaviour.
type Transport struct {
	Client *Client
	Retry  *RetryConfig
}

var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper. The request body is buffered so
// it can be replayed.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = data
	}

	resp, err := t.Client.Send(req.Context(), RequestSpec{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header,
		Body:   body,
	}, t.Retry)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}

// HTTPClient returns an *http.Client backed by t.
func (t *Transport) HTTPClient() *http.Client {
	return &http.Client{Transport: t}
}
