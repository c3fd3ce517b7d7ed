// Package stateclient talks to the record service over HTTP.
package stateclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/state"
	"github.com/EPFL-ENAC/AddLidar/internal/stateapi"
)

// DefaultTimeout bounds every request. Requests are never retried.
const DefaultTimeout = 30 * time.Second

// Client implements state.Store and state.StatusWriter against the record
// service rooted at baseURL (for example http://backend-internal/sqlite).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ state.Store        = (*Client)(nil)
	_ state.StatusWriter = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a record service client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: record service url required", services.ErrConfiguration)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: record service url: %v", services.ErrConfiguration, err)
	}
	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// GetFolder fetches a folder record. The service answers with a list; only an
// exact key match counts.
func (c *Client) GetFolder(ctx context.Context, folderKey string) (*state.FolderRecord, error) {
	var result stateapi.QueryResult[stateapi.Folder]
	status, err := c.do(ctx, http.MethodGet, folderPath(folderKey), nil, &result)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, state.ErrNotFound
	}
	for _, item := range result.Data {
		if item.FolderKey != folderKey {
			continue
		}
		return item.Record()
	}
	return nil, state.ErrNotFound
}

// MissionHasFolders reports whether the service knows any folder of the mission.
func (c *Client) MissionHasFolders(ctx context.Context, missionKey string) (bool, error) {
	var result stateapi.QueryResult[stateapi.Folder]
	status, err := c.do(ctx, http.MethodGet, "/folder_state/mission/"+url.PathEscape(missionKey), nil, &result)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	return result.Count > 0, nil
}

// UpsertFolder re-arms an existing record with PUT and falls back to POST
// when the service reports the record absent.
func (c *Client) UpsertFolder(ctx context.Context, in state.FolderUpsert) error {
	mission, _, err := state.SplitFolderKey(in.FolderKey)
	if err != nil {
		return err
	}
	if in.MissionKey == "" {
		in.MissionKey = mission
	}
	update := stateapi.UpdateRequestFrom(state.StatusUpdate{
		Fingerprint: &in.Fingerprint,
		Status:      state.StatusPending,
		SizeKB:      &in.SizeKB,
		FileCount:   &in.FileCount,
		OutputPath:  &in.OutputPath,
	})
	status, err := c.do(ctx, http.MethodPut, folderPath(in.FolderKey), update, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNotFound {
		return nil
	}
	create := stateapi.FolderCreateRequest{
		FolderKey:        in.FolderKey,
		MissionKey:       in.MissionKey,
		Fingerprint:      in.Fingerprint,
		SizeKB:           in.SizeKB,
		FileCount:        in.FileCount,
		OutputPath:       in.OutputPath,
		ProcessingStatus: string(state.StatusPending),
	}
	status, err = c.do(ctx, http.MethodPost, "/folder_state", create, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return unexpectedStatus(http.MethodPost, "/folder_state", status)
	}
	return nil
}

// TouchFolder updates last_checked only.
func (c *Client) TouchFolder(ctx context.Context, folderKey string) error {
	return c.touch(ctx, folderPath(folderKey)+"/last_checked")
}

// UpdateFolderStatus writes a processing outcome back.
func (c *Client) UpdateFolderStatus(ctx context.Context, folderKey string, update state.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	status, err := c.do(ctx, http.MethodPut, folderPath(folderKey), stateapi.UpdateRequestFrom(update), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return state.ErrNotFound
	}
	return nil
}

// GetMarker fetches the marker-file record of a mission.
func (c *Client) GetMarker(ctx context.Context, missionKey string) (*state.MarkerRecord, error) {
	var marker stateapi.Marker
	status, err := c.do(ctx, http.MethodGet, markerPath(missionKey), nil, &marker)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, state.ErrNotFound
	}
	if marker.MissionKey == "" {
		marker.MissionKey = missionKey
	}
	return marker.Record()
}

// UpsertMarker re-arms or creates the marker record of a mission.
func (c *Client) UpsertMarker(ctx context.Context, in state.MarkerUpsert) error {
	update := stateapi.UpdateRequestFrom(state.StatusUpdate{
		Fingerprint: &in.Fingerprint,
		Status:      state.StatusPending,
		OutputPath:  &in.OutputPath,
	})
	status, err := c.do(ctx, http.MethodPut, markerPath(in.MissionKey), update, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNotFound {
		return nil
	}
	create := stateapi.MarkerCreateRequest{
		MissionKey:       in.MissionKey,
		Fingerprint:      in.Fingerprint,
		OutputPath:       in.OutputPath,
		ProcessingStatus: string(state.StatusPending),
	}
	status, err = c.do(ctx, http.MethodPost, "/potree_metacloud_state", create, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return unexpectedStatus(http.MethodPost, "/potree_metacloud_state", status)
	}
	return nil
}

// TouchMarker updates last_checked only.
func (c *Client) TouchMarker(ctx context.Context, missionKey string) error {
	return c.touch(ctx, markerPath(missionKey)+"/last_checked")
}

// UpdateMarkerStatus writes a processing outcome back.
func (c *Client) UpdateMarkerStatus(ctx context.Context, missionKey string, update state.StatusUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	status, err := c.do(ctx, http.MethodPut, markerPath(missionKey), stateapi.UpdateRequestFrom(update), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return state.ErrNotFound
	}
	return nil
}

// ListFolders fetches one page of folder records.
func (c *Client) ListFolders(ctx context.Context, limit, offset int) (stateapi.QueryResult[stateapi.Folder], error) {
	var result stateapi.QueryResult[stateapi.Folder]
	path := fmt.Sprintf("/folder_state?limit=%d&offset=%d", limit, offset)
	status, err := c.do(ctx, http.MethodGet, path, nil, &result)
	if err == nil && status == http.StatusNotFound {
		err = unexpectedStatus(http.MethodGet, path, status)
	}
	return result, err
}

// ListMarkers fetches one page of marker records.
func (c *Client) ListMarkers(ctx context.Context, limit, offset int) (stateapi.QueryResult[stateapi.Marker], error) {
	var result stateapi.QueryResult[stateapi.Marker]
	path := fmt.Sprintf("/potree_metacloud_state?limit=%d&offset=%d", limit, offset)
	status, err := c.do(ctx, http.MethodGet, path, nil, &result)
	if err == nil && status == http.StatusNotFound {
		err = unexpectedStatus(http.MethodGet, path, status)
	}
	return result, err
}

func (c *Client) touch(ctx context.Context, path string) error {
	status, err := c.do(ctx, http.MethodPatch, path, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return state.ErrNotFound
	}
	return nil
}

// do performs one request. 2xx and 404 are returned as statuses; any other
// outcome is an error wrapping services.ErrConnectivity. A 2xx body that
// does not decode into out wraps services.ErrMalformedRecord.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: build request %s %s: %v", services.ErrConnectivity, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", services.ErrConnectivity, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%w: %s %s: status %d: %s", services.ErrConnectivity, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return resp.StatusCode, fmt.Errorf("%w: %s %s: %w", services.ErrConnectivity, method, path, err)
		}
		return resp.StatusCode, fmt.Errorf("%w: decode %s %s: %v", services.ErrMalformedRecord, method, path, err)
	}
	return resp.StatusCode, nil
}

func unexpectedStatus(method, path string, status int) error {
	return fmt.Errorf("%w: %s %s: unexpected status %d", services.ErrConnectivity, method, path, status)
}

func folderPath(folderKey string) string {
	parts := strings.Split(folderKey, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/folder_state/" + strings.Join(parts, "/")
}

func markerPath(missionKey string) string {
	return "/potree_metacloud_state/" + url.PathEscape(missionKey)
}
