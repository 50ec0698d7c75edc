package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"igfetch/pkg/errors"
	"igfetch/pkg/logger"
	"igfetch/pkg/proxy"
)

// Client is an HTTP client for the Instagram mobile and web surfaces.
// All traffic goes through the assigned proxy when one is configured.
type Client struct {
	httpClient *http.Client
	endpoints  *Endpoints
	logger     logger.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Proxy routes all requests through the given upstream. Nil means
	// a direct connection.
	Proxy *proxy.Config
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the whole request including body read.
	ReadTimeout time.Duration
	// Endpoints overrides the production endpoints, used by tests.
	Endpoints *Endpoints
	// Logger for request tracing.
	Logger logger.Logger
}

// NewClient creates a client for the Instagram endpoints.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 45 * time.Second
	}
	if opts.Endpoints == nil {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
	}
	if opts.Proxy != nil {
		proxyURL, err := url.Parse(opts.Proxy.URL())
		if err != nil {
			return nil, errors.Wrap(errors.ErrorTypeUnknown, "invalid proxy URL", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.ReadTimeout,
		},
		endpoints: opts.Endpoints,
		logger:    opts.Logger,
	}, nil
}

// Endpoints returns the endpoint set the client talks to.
func (c *Client) Endpoints() *Endpoints {
	return c.endpoints
}

// do performs a request with the given headers and logs the outcome.
func (c *Client) do(req *http.Request, headers map[string]string) (*http.Response, error) {
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Wrap(errors.ErrorTypeNetwork, fmt.Sprintf("%s %s", req.Method, req.URL.Host), err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// checkResponseStatus converts non-2xx responses into typed errors.
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	errType := errors.ClassifyStatus(resp.StatusCode)
	c.logger.WarnWithFields("request rejected", map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
		"type":   string(errType),
	})
	return &errors.Error{
		Type:    errType,
		Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		Code:    resp.StatusCode,
	}
}

// GetJSON performs a GET request and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeUnknown, "creating request", err)
	}

	resp, err := c.do(req, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	return c.decodeJSON(resp, target)
}

// PostForm performs a form-encoded POST and decodes the JSON response.
func (c *Client) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(errors.ErrorTypeUnknown, "creating request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	return c.decodeJSON(resp, target)
}

func (c *Client) decodeJSON(resp *http.Response, target interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: "reading response body",
			Code:    resp.StatusCode,
			Cause:   err,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.DebugWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          resp.Request.URL.String(),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "parsing JSON response",
			Code:    resp.StatusCode,
			Cause:   err,
		}
	}
	return nil
}

// GetPage performs a GET request and returns the final URL after
// redirects together with the body. Used for HTML pages and for share
// link resolution.
func (c *Client) GetPage(ctx context.Context, rawURL string, headers map[string]string) (finalURL, body string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", errors.Wrap(errors.ErrorTypeUnknown, "creating request", err)
	}

	resp, err := c.do(req, headers)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return "", "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: "reading response body",
			Code:    resp.StatusCode,
			Cause:   err,
		}
	}

	return resp.Request.URL.String(), string(data), nil
}

// Download performs a streaming GET for a media binary. The caller
// must close the returned body.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", errors.Wrap(errors.ErrorTypeUnknown, "creating request", err)
	}

	resp, err := c.do(req, DownloadHeaders())
	if err != nil {
		return nil, "", err
	}

	if err := c.checkResponseStatus(resp); err != nil {
		resp.Body.Close()
		return nil, "", err
	}

	return resp.Body, resp.Header.Get("Content-Type"), nil
}
