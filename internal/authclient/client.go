// Package authclient talks to the license server on behalf of one device.
package authclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lessonvault/internal/api"
	"lessonvault/internal/offline"
)

// ErrUnauthorized means the account token was missing, expired or rejected.
var ErrUnauthorized = errors.New("unauthorized")

// Client calls the license API for a fixed device.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
}

var _ offline.Authority = (*Client)(nil)

// New creates a Client. A nil httpClient uses one with a 30s timeout.
func New(baseURL, deviceID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		http:     httpClient,
	}
}

// RegisterDevice registers this device under the token's account.
func (c *Client) RegisterDevice(ctx context.Context, token, displayName, platform string) (*api.Device, error) {
	var res api.Device
	err := c.do(ctx, http.MethodPost, "/v1/devices", token, api.RegisterDeviceRequest{
		DeviceID:    c.deviceID,
		DisplayName: displayName,
		Platform:    platform,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListDevices(ctx context.Context, token string) ([]api.Device, error) {
	var res api.DeviceList
	if err := c.do(ctx, http.MethodGet, "/v1/devices", token, nil, &res); err != nil {
		return nil, err
	}
	return res.Devices, nil
}

func (c *Client) Authorize(ctx context.Context, token, contentID string) (*offline.Grant, error) {
	var res api.AuthorizeResponse
	if err := c.do(ctx, http.MethodPost, contentPath(contentID, "authorize"), token, api.AuthorizeRequest{DeviceID: c.deviceID}, &res); err != nil {
		return nil, err
	}

	key, err := decodeKey(res.Key)
	if err != nil {
		return nil, err
	}
	return &offline.Grant{
		FetchURL:  res.FetchURL,
		Key:       key,
		Algorithm: res.Algorithm,
		ExpiresAt: res.ExpiresAt,
		Content: offline.ContentInfo{
			ContentID: res.Content.ContentID,
			CourseID:  res.Content.CourseID,
			Title:     res.Content.Title,
			SizeBytes: res.Content.SizeBytes,
			IsDemo:    res.Content.IsDemo,
		},
	}, nil
}

func (c *Client) Confirm(ctx context.Context, token, contentID string, fileSizeBytes int64) error {
	var res api.OKResponse
	return c.do(ctx, http.MethodPost, contentPath(contentID, "confirm"), token, api.ConfirmRequest{
		DeviceID:      c.deviceID,
		FileSizeBytes: fileSizeBytes,
	}, &res)
}

func (c *Client) ReissueKey(ctx context.Context, token, contentID string) ([]byte, error) {
	var res api.KeyResponse
	if err := c.do(ctx, http.MethodPost, contentPath(contentID, "key"), token, api.KeyRequest{DeviceID: c.deviceID}, &res); err != nil {
		return nil, err
	}
	return decodeKey(res.Key)
}

func (c *Client) Release(ctx context.Context, token, contentID string) error {
	path := contentPath(contentID, "license") + "?deviceId=" + url.QueryEscape(c.deviceID)
	return c.do(ctx, http.MethodDelete, path, token, nil, nil)
}

func (c *Client) SkipDemo(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/v1/demo/skip", token, nil, nil)
}

func contentPath(contentID, action string) string {
	return "/v1/contents/" + url.PathEscape(contentID) + "/" + action
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("server returned a malformed key")
	}
	return key, nil
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError maps an error response back to the matching sentinel.
func decodeError(resp *http.Response) error {
	var e api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var sentinel error
	switch e.Code {
	case api.CodeDeviceNotRegistered:
		sentinel = offline.ErrDeviceNotRegistered
	case api.CodeNotEntitled:
		sentinel = offline.ErrNotEntitled
	case api.CodeAlreadyConsumed:
		sentinel = offline.ErrAlreadyConsumed
	case api.CodeLicenseRevoked:
		sentinel = offline.ErrLicenseRevoked
	case api.CodeKeyVerificationFailed:
		sentinel = offline.ErrKeyVerificationFailed
	case api.CodeContentNotFound:
		sentinel = offline.ErrNotFound
	case api.CodeUnauthorized:
		sentinel = ErrUnauthorized
	default:
		return fmt.Errorf("server returned %s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("%w: %s", sentinel, e.Error)
}
