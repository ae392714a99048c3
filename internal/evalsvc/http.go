package evalsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
)

const (
	endpointEvaluate = "/evaluate"
	endpointOptions  = "/options"
)

// #region client-struct

// HTTPClient talks JSON to the evaluation server.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	log     logr.Logger
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// WithRateLimit allows at most rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64) HTTPOption {
	return func(c *HTTPClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log logr.Logger) HTTPOption {
	return func(c *HTTPClient) { c.log = log }
}

// #endregion client-struct

// #region constructor

// NewHTTPClient returns a client for the server at baseURL. Evaluations are
// slow, so the default client has no timeout; bound calls through the context.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse server url %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	c := &HTTPClient{
		base:   u,
		client: &http.Client{},
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// #endregion constructor

// #region evaluate

// Evaluate asks the server to evaluate model and returns the resulting record.
func (c *HTTPClient) Evaluate(ctx context.Context, model modelconfig.ModelConfig) (evaluation.Record, error) {
	const op = "evaluate"
	body, err := json.Marshal(model)
	if err != nil {
		return evaluation.Record{}, fmt.Errorf("%s: marshal: %w", op, err)
	}

	c.log.V(1).Info("evaluating", "model", model.String())
	status, respBody, err := c.do(ctx, http.MethodPost, endpointEvaluate, body)
	if err != nil {
		return evaluation.Record{}, requestError(op, status, err)
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		rec, err := decodeRecord(respBody, model)
		if err != nil {
			return evaluation.Record{}, &Error{Op: op, StatusCode: status, Message: "malformed response", Err: err}
		}
		return rec, nil
	default:
		return evaluation.Record{}, &Error{Op: op, StatusCode: status, Message: errorMessage(respBody)}
	}
}

// #endregion evaluate

// #region options

// Options fetches the option lists the server can build models from.
func (c *HTTPClient) Options(ctx context.Context) (modelconfig.Options, error) {
	const op = "options"
	status, body, err := c.do(ctx, http.MethodGet, endpointOptions, nil)
	if err != nil {
		return modelconfig.Options{}, requestError(op, status, err)
	}
	if status != http.StatusOK {
		return modelconfig.Options{}, &Error{Op: op, StatusCode: status, Message: errorMessage(body)}
	}
	var opts modelconfig.Options
	if err := json.Unmarshal(body, &opts); err != nil {
		return modelconfig.Options{}, &Error{Op: op, StatusCode: status, Message: "malformed response", Err: err}
	}
	return opts, nil
}

// #endregion options

// #region do

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	u := *c.base
	u.Path = c.base.Path + endpoint

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		// the status line arrived, so the server was reachable
		c.log.Error(err, "failed to read response body", "endpoint", endpoint, "status", resp.StatusCode)
		return resp.StatusCode, nil, &Error{Op: "read " + endpoint, StatusCode: resp.StatusCode, Message: "unreadable response", Err: err}
	}
	return resp.StatusCode, respBody, nil
}

// requestError wraps a failure from do. Errors raised before a status arrived
// carry NoStatus.
func requestError(op string, status int, err error) error {
	var e *Error
	if errors.As(err, &e) {
		e.Op = op
		return e
	}
	return &Error{Op: op, StatusCode: status, Err: err}
}

// #endregion do
