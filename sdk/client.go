package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Client is the REST client for the IM backend
type Client struct {
	baseURL     string
	httpClient  *client.Client
	dialTimeout time.Duration
	ioTimeout   time.Duration

	mu    sync.RWMutex
	token string
}

// ClientOption is a function to configure the client
type ClientOption func(*Client)

// WithToken sets the authentication token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeouts sets the dial and read/write timeouts of the default Hertz client
func WithTimeouts(dial, io time.Duration) ClientOption {
	return func(c *Client) {
		c.dialTimeout = dial
		c.ioTimeout = io
	}
}

// NewClient creates a new SDK client
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:     baseURL,
		dialTimeout: 10 * time.Second,
		ioTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	httpClient, err := client.NewClient(
		client.WithDialTimeout(c.dialTimeout),
		client.WithClientReadTimeout(c.ioTimeout),
		client.WithWriteTimeout(c.ioTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	c.httpClient = httpClient

	return c, nil
}

// SetToken sets the authentication token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken returns the current token
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return c.do(ctx, consts.MethodGet, reqURL, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.do(ctx, consts.MethodPost, c.baseURL+path, body, result)
}

func (c *Client) put(ctx context.Context, path string, params url.Values, body any, result any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return c.do(ctx, consts.MethodPut, reqURL, body, result)
}

// do sends one request and decodes the {code, msg, data} envelope
func (c *Client) do(ctx context.Context, method, reqURL string, body any, result any) error {
	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(method)
	req.SetRequestURI(reqURL)

	if token := c.GetToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBody(jsonBody)
	}

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("failed to send request: %w: %w", ErrTransport, err)
	}

	var apiResp Response
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return fmt.Errorf("failed to decode response: status=%d: %w", resp.StatusCode(), err)
	}

	if apiResp.Code != CodeSuccess {
		return &Error{Code: apiResp.Code, Msg: apiResp.Msg}
	}

	if result != nil && len(apiResp.Data) > 0 && string(apiResp.Data) != "null" {
		if err := json.Unmarshal(apiResp.Data, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
