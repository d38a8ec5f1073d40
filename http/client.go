// Copyright 2017 Pilosa Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/featurebasedb/boxes"
	"github.com/featurebasedb/boxes/errors"
	"github.com/featurebasedb/boxes/logger"
	"github.com/hashicorp/go-retryablehttp"
)

// Client talks to a Handler. Requests which fail in transport, or with a
// 5xx or 429 status, are retried with backoff; that includes writes, which
// is safe because a set request names the bit's new value rather than
// toggling it.
type Client struct {
	address *url.URL
	token   string
	logger  logger.Logger

	// The client to use for HTTP communication.
	httpClient *retryablehttp.Client
}

// ClientOption is a functional option type for Client.
type ClientOption func(c *Client) error

// OptClientToken makes the client send "Authorization: Bearer <token>" with
// every request. The token is forwarded unchanged.
func OptClientToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

func OptClientLogger(logger logger.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// OptClientRetries sets the number of retries after the first attempt and
// the bounds of the backoff between them.
func OptClientRetries(max int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *Client) error {
		c.httpClient.RetryMax = max
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
		return nil
	}
}

// OptClientHTTPClient sets the underlying client, for instance to set a
// timeout or a custom transport.
func OptClientHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		c.httpClient.HTTPClient = hc
		return nil
	}
}

// NewClient returns a client for the server at address, which may omit the
// scheme.
func NewClient(address string, opts ...ClientOption) (*Client, error) {
	if address == "" {
		return nil, errors.New(errors.ErrUncoded, "address required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.Wrap(err, "parsing address")
	}

	c := &Client{
		address:    u,
		logger:     logger.NopLogger,
		httpClient: retryablehttp.NewClient(),
	}
	c.httpClient.RetryMax = 3
	c.httpClient.RetryWaitMin = 50 * time.Millisecond
	c.httpClient.RetryWaitMax = time.Second
	c.httpClient.CheckRetry = checkRetry
	c.httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	c.httpClient.Logger = leveledLogger{c.logger}
	return c, nil
}

// checkRetry retries what DefaultRetryPolicy does, plus 429s. Other 4xx
// responses are final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return ctx.Err() == nil, ctx.Err()
		} else if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// leveledLogger adapts a logger.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger logger.Logger
}

func (l leveledLogger) format(msg string, kv []interface{}) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", kv[i], kv[i+1])
	}
	return sb.String()
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Errorf("%s", l.format(msg, kv)) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debugf("%s", l.format(msg, kv)) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Debugf("%s", l.format(msg, kv)) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warnf("%s", l.format(msg, kv)) }

func (c *Client) url(path string, query url.Values) string {
	u := *c.address
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do executes a request and returns the response if its status is 2xx.
// Otherwise the body is decoded into the coded error the server sent.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	var rbody interface{}
	if body != nil {
		rbody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.url(path, query), rbody)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("User-Agent", "boxes/"+boxes.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, errors.WithMessagef(errors.UnmarshalJSON(resp.Body), "%s %s: %s", method, path, resp.Status)
	}
	return resp, nil
}

func (c *Client) readVector(resp *http.Response) (boxes.Vector, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return boxes.Vector{}, errors.Wrap(err, "reading response")
	}
	return boxes.ParseVector(strings.TrimSpace(string(b)))
}

func rangePath(lower uint64) string {
	return "/range/" + boxes.FormatShardKey(lower)
}

// GetRange returns the vector of the shard whose lower bound is lower.
func (c *Client) GetRange(ctx context.Context, lower uint64) (boxes.Vector, error) {
	resp, err := c.do(ctx, "GET", rangePath(lower), nil, nil)
	if err != nil {
		return boxes.Vector{}, err
	}
	return c.readVector(resp)
}

// SetRange sets bit localID of shard lower and returns the shard's vector
// afterwards.
func (c *Client) SetRange(ctx context.Context, lower uint64, localID int64, checked bool) (boxes.Vector, error) {
	body, err := json.Marshal(boxes.SetRequest{ID: localID, Checked: checked})
	if err != nil {
		return boxes.Vector{}, errors.Wrap(err, "marshalling set request")
	}
	resp, err := c.do(ctx, "POST", rangePath(lower), nil, body)
	if err != nil {
		return boxes.Vector{}, err
	}
	return c.readVector(resp)
}

// SendRange asks the server to set a bit without waiting for the write. It
// returns once the server has queued it.
func (c *Client) SendRange(ctx context.Context, lower uint64, localID int64, checked bool) error {
	body, err := json.Marshal(boxes.SetRequest{ID: localID, Checked: checked})
	if err != nil {
		return errors.Wrap(err, "marshalling set request")
	}
	resp, err := c.do(ctx, "POST", rangePath(lower), url.Values{"mode": {modeSend}}, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Count returns the server's aggregate counter.
func (c *Client) Count(ctx context.Context) (int64, error) {
	resp, err := c.do(ctx, "GET", "/counter", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var n int64
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return 0, errors.Wrap(err, "decoding count")
	}
	return n, nil
}

// Health returns nil if the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, "GET", "/health", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Version returns the server's build details.
func (c *Client) Version(ctx context.Context) (boxes.VersionJSON, error) {
	var v boxes.VersionJSON
	resp, err := c.do(ctx, "GET", "/version", nil, nil)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, errors.Wrap(err, "decoding version")
	}
	return v, nil
}
