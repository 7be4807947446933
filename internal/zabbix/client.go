package zabbix

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fastshot "github.com/opus-domini/fast-shot"
)

const defaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// Timeout bounds each RPC round trip. Defaults to 30s.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification. Off by
	// default; only meant for lab appliances with self-signed certs.
	InsecureSkipVerify bool
}

// Client talks to one Zabbix server.
type Client struct {
	endpoint string
	user     string
	password string
	http     fastshot.ClientHttpMethods
}

// NewClient builds a client for the server at rawURL. The URL may be the
// frontend base URL; the api_jsonrpc.php path is appended when missing.
func NewClient(rawURL, user, password string, opts Options) (*Client, error) {
	endpoint := EndpointURL(rawURL)
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid zabbix url %q", rawURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := parsed.Scheme + "://" + parsed.Host
	builder := fastshot.NewClient(base).
		Config().SetTimeout(timeout)
	if opts.InsecureSkipVerify {
		builder = builder.Config().SetCustomTransport(&http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // explicit operator opt-in
		})
	}

	return &Client{
		endpoint: endpoint,
		user:     user,
		password: password,
		http:     builder.Build(),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) String() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Data)
	}
	return e.Message
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, auth string) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    auth,
		ID:      1,
	}
	resp, err := c.http.POST(pathOf(c.endpoint)).
		Context().Set(ctx).
		Body().AsJSON(req).
		Send()
	if err != nil {
		return nil, err
	}
	if resp.Status().IsError() {
		return nil, fmt.Errorf("http status %d", resp.Status().Code())
	}
	var out rpcResponse
	if err := resp.Body().AsJSON(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("api error: %s", out.Error.String())
	}
	if out.Result == nil {
		return nil, fmt.Errorf("response carries neither result nor error")
	}
	return out.Result, nil
}

// Login authenticates and returns a session token.
func (c *Client) Login(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "user.login", map[string]string{
		"username": c.user,
		"password": c.password,
	}, "")
	if err != nil {
		return "", &AuthError{Endpoint: c.endpoint, Err: err}
	}
	var token string
	if err := json.Unmarshal(result, &token); err != nil {
		return "", &AuthError{Endpoint: c.endpoint, Reason: "login result is not a token string"}
	}
	if token == "" {
		return "", &AuthError{Endpoint: c.endpoint, Reason: "empty session token"}
	}
	return token, nil
}

// ActiveTriggers fetches all currently active, monitored problems with
// their host associations and last event, sorted by trigger ID so that
// downstream output is stable.
func (c *Client) ActiveTriggers(ctx context.Context, token string) ([]Trigger, error) {
	params := map[string]any{
		"output":            []string{"triggerid", "description", "priority", "opdata", "lastchange"},
		"selectHosts":       []string{"name"},
		"selectLastEvent":   "extend",
		"expandDescription": true,
		"only_true":         true,
		"monitored":         true,
		"sortfield":         "triggerid",
	}
	result, err := c.call(ctx, "trigger.get", params, token)
	if err != nil {
		return nil, &FetchError{Method: "trigger.get", Err: err}
	}
	var triggers []Trigger
	if err := json.Unmarshal(result, &triggers); err != nil {
		return nil, &FetchError{Method: "trigger.get", Reason: "result is not a trigger list", Err: err}
	}
	return triggers, nil
}

// Logout closes the API session. Best-effort; callers ignore the error.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.call(ctx, "user.logout", []string{}, token)
	return err
}

// pathOf strips the scheme and host already configured on the fast-shot
// client, leaving the request path.
func pathOf(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "/api_jsonrpc.php"
	}
	return parsed.Path
}
