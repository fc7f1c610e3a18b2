package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/auth"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/google/uuid"
	"golang.org/x/net/proxy"
)

type HTTPOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// ProxyURL routes every connection through a SOCKS5 proxy when set,
	// e.g. socks5://127.0.0.1:1080.
	ProxyURL string
	// SignedTokens sends a short-lived HS256 token instead of the API key.
	SignedTokens bool
	TokenTTL     time.Duration
	ClientID     string
}

// HTTPClient talks to the receiver's HTTP API.
type HTTPClient struct {
	base *url.URL
	opts HTTPOptions
	http *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = tokenTTL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		dial, err := proxyDialer(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = nil
		transport.DialContext = dial
	}

	return &HTTPClient{
		base: base,
		opts: opts,
		http: &http.Client{Transport: transport, Timeout: opts.Timeout},
	}, nil
}

func proxyDialer(raw string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

func (c *HTTPClient) endpoint(path string) string {
	return c.base.String() + path
}

func (c *HTTPClient) credential() (string, error) {
	if !c.opts.SignedTokens {
		return c.opts.APIKey, nil
	}
	return auth.GenerateToken(c.opts.ClientID, []byte(c.opts.APIKey), c.opts.TokenTTL)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	cred, err := c.credential()
	if err != nil {
		return nil, err
	}
	req.Header.Set(common.AuthorizationHeaderName, "Bearer "+cred)
	req.Header.Set(common.RequestIDHeaderName, uuid.NewString())
	return req, nil
}

func (c *HTTPClient) UploadChunk(ctx context.Context, ch Chunk) (*UploadResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/upload", bytes.NewReader(ch.Body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(common.ChunkIndexHeaderName, strconv.Itoa(ch.ChunkIndex))
	req.Header.Set(common.FileNameHeaderName, ch.FileName)
	if ch.Encrypted {
		req.Header.Set(common.ChunkEncodingHeaderName, common.EnvelopeEncoding)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var res UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", common.ErrNetwork, err)
	}
	return &res, nil
}

func (c *HTTPClient) FetchPublicKey(ctx context.Context) (*PublicKey, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/public-key", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var pk PublicKey
	if err := json.NewDecoder(resp.Body).Decode(&pk); err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	return &pk, nil
}

func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// statusError maps a non-200 response onto the common sentinels.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", common.ErrAuthentication, msg)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrPathSecurity, msg)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", common.ErrCrypto, msg)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", common.ErrNetwork, msg)
	default:
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
}
