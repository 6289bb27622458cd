// Package sdk is a thin client for the network service API: client
// authorization, client removal and the location directory.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"urproxy/internal/shared/types"
)

// ErrNoJWT is returned when a call needs a network JWT and none is stored.
var ErrNoJWT = errors.New("no network jwt, sign in first")

// APIError is a non-2xx answer or an error object in the response body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("network api error (status %d): %s", e.Status, e.Message)
}

type apiErrorBody struct {
	Message string `json:"message"`
}

// ProxyConfigResult is the upstream proxy grant returned with a client JWT.
type ProxyConfigResult struct {
	AuthToken      string `json:"auth_token"`
	ProxyHost      string `json:"proxy_host"`
	HTTPSProxyPort int    `json:"https_proxy_port"`
	SocksProxyPort int    `json:"socks_proxy_port,omitempty"`
	HTTPProxyPort  int    `json:"http_proxy_port,omitempty"`
}

// AuthClientArgs scopes a new network client, optionally to a location.
type AuthClientArgs struct {
	Description string          `json:"description"`
	DeviceSpec  string          `json:"device_spec"`
	ProxyConfig *ProxyConfigReq `json:"proxy_config,omitempty"`
}

// ProxyConfigReq asks the service to provision a proxy for the client.
type ProxyConfigReq struct {
	LockCallerIP    bool   `json:"lock_caller_ip"`
	LockIPList      bool   `json:"lock_ip_list"`
	EnableSocks     bool   `json:"enable_socks"`
	EnableHTTP      bool   `json:"enable_http"`
	HTTPRequireAuth bool   `json:"http_require_auth"`
	LocationID      string `json:"location_id,omitempty"`
}

type AuthClientResult struct {
	ByClientJWT       string             `json:"by_client_jwt"`
	ClientID          string             `json:"client_id,omitempty"`
	ProxyConfigResult *ProxyConfigResult `json:"proxy_config_result,omitempty"`
	Error             *apiErrorBody      `json:"error,omitempty"`
}

// Location is one entry of the location directory.
type Location struct {
	LocationID    string `json:"location_id"`
	Name          string `json:"name"`
	LocationType  string `json:"location_type"`
	CountryCode   string `json:"country_code,omitempty"`
	ProviderCount int    `json:"provider_count"`
}

type FindLocationsResult struct {
	Locations []Location `json:"locations"`
}

// Client wraps resty with the service base URL and timeouts. Writes go
// through a client that never retries: a repeated auth-client call would
// create a second network client nobody removes.
type Client struct {
	resty     *resty.Client
	directory *resty.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	newResty := func() *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("User-Agent", "urproxy/1.0").
			SetHeader("Content-Type", "application/json")
	}
	directory := newResty().
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	return &Client{resty: newResty(), directory: directory}
}

func (c *Client) post(ctx context.Context, jwt, path string, body, out interface{}) error {
	if jwt == "" {
		return ErrNoJWT
	}
	var apiErr apiErrorBody
	resp, err := c.resty.R().
		SetContext(ctx).
		SetAuthToken(jwt).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}

// AuthNetworkClient creates a network client and its proxy grant.
func (c *Client) AuthNetworkClient(ctx context.Context, jwt string, args AuthClientArgs) (*AuthClientResult, error) {
	var result AuthClientResult
	if err := c.post(ctx, jwt, "/network/auth-client", args, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, &APIError{Status: 200, Message: result.Error.Message}
	}
	if result.ProxyConfigResult == nil {
		return nil, &APIError{Status: 200, Message: "response carries no proxy config"}
	}
	return &result, nil
}

// RemoveNetworkClient revokes a client created by AuthNetworkClient.
func (c *Client) RemoveNetworkClient(ctx context.Context, jwt, clientID string) error {
	body := map[string]string{"client_id": clientID}
	var result struct {
		Error *apiErrorBody `json:"error,omitempty"`
	}
	if err := c.post(ctx, jwt, "/network/remove-client", body, &result); err != nil {
		return err
	}
	if result.Error != nil {
		return &APIError{Status: 200, Message: result.Error.Message}
	}
	return nil
}

// FindLocations queries the location directory. An empty query lists the
// provider locations.
func (c *Client) FindLocations(ctx context.Context, jwt, query string) (*FindLocationsResult, error) {
	var result FindLocationsResult
	if query == "" {
		if jwt == "" {
			return nil, ErrNoJWT
		}
		resp, err := c.directory.R().SetContext(ctx).SetAuthToken(jwt).SetResult(&result).Get("/network/provider-locations")
		if err != nil {
			return nil, fmt.Errorf("request provider-locations failed: %w", err)
		}
		if resp.IsError() {
			return nil, &APIError{Status: resp.StatusCode(), Message: resp.Status()}
		}
		return &result, nil
	}
	if err := c.post(ctx, jwt, "/network/find-locations", map[string]string{"query": query}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ProxyConfigFromAuth builds the config the manager enables: the auth token
// becomes the first host label and the https proxy port is used.
func ProxyConfigFromAuth(r ProxyConfigResult) (types.ProxyConfig, error) {
	if r.AuthToken == "" || r.ProxyHost == "" {
		return types.ProxyConfig{}, fmt.Errorf("incomplete proxy grant")
	}
	cfg := types.ProxyConfig{
		Scheme: types.SchemeHTTPS,
		Host:   r.AuthToken + "." + r.ProxyHost,
		Port:   r.HTTPSProxyPort,
	}
	return cfg, cfg.Validate()
}

// DeviceSpec describes this agent to the service.
func DeviceSpec(clientID string) string {
	return "urproxy/" + clientID
}
