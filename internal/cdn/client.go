package cdn

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nxkit/sysup/internal/cnmt"
	"github.com/nxkit/sysup/internal/config"
	"github.com/nxkit/sysup/internal/domain/update"
	"github.com/nxkit/sysup/internal/logger"
)

const (
	// contentIDHeader carries the content identifier of a served meta.
	contentIDHeader = "X-Nintendo-Content-ID"

	// latestUpdatePath answers the latest-update query for a device.
	latestUpdatePath = "/v1/system_update_meta"
	// titleMetaPathFormat serves the metadata of one title at one version.
	titleMetaPathFormat = "/t/a/%016x/%d"
	// contentPathFormat serves one content blob by identifier.
	contentPathFormat = "/c/c/%s"
)

var (
	errBadHTTPStatus    = errors.New("unexpected http status")
	errEmptyUpdateList  = errors.New("update list is empty")
	errMissingContentID = errors.New("response is missing a content id")
)

// MetaHandler is invoked once per downloaded metadata title, possibly
// concurrently from several workers.
type MetaHandler func(data []byte, titleID uint64, contentID string, version update.Version) error

// ContentHandler is invoked once per downloaded content blob, possibly
// concurrently from several workers.
type ContentHandler func(data []byte, contentID string) error

// Client is the download engine. Parallelism is fixed at construction and
// shared by every download operation.
type Client struct {
	httpClient *http.Client
	metaURL    string
	contentURL string
	deviceID   string
	limit      int
}

// NewClient builds a CDN client from the connection settings, loading the
// TLS client certificate when one is configured.
func NewClient(cfg *config.Config) (*Client, error) {
	transport := http.DefaultTransport

	if cfg.CertificatePath != "" {
		certificate, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}

		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{certificate},
				MinVersion:   tls.VersionTLS12,
			},
		}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		metaURL:    strings.TrimRight(cfg.MetaURL, "/"),
		contentURL: strings.TrimRight(cfg.ContentURL, "/"),
		deviceID:   cfg.DeviceID,
		limit:      cfg.Parallelism,
	}, nil
}

// latestUpdateResponse is the JSON shape of the latest-update query.
type latestUpdateResponse struct {
	SystemUpdateMetas []struct {
		TitleID      string `json:"title_id"`
		TitleVersion uint32 `json:"title_version"`
	} `json:"system_update_metas"`
}

// LatestVersion resolves the packed version of the latest published update.
// It is the light-weight read-only query behind printLatestVersion.
func (c *Client) LatestVersion(ctx context.Context) (update.Version, error) {
	_, version, err := c.latestMeta(ctx)

	return version, err
}

// LatestUpdate resolves the latest update and downloads its descriptor
// payload.
func (c *Client) LatestUpdate(ctx context.Context) (*update.Update, error) {
	titleID, version, err := c.latestMeta(ctx)
	if err != nil {
		return nil, err
	}

	payload, contentID, err := c.fetch(ctx, c.contentURL+fmt.Sprintf(titleMetaPathFormat, titleID, version))
	if err != nil {
		return nil, fmt.Errorf("fetch update descriptor: %w", err)
	}

	if contentID == "" {
		return nil, errMissingContentID
	}

	return &update.Update{
		TitleID:   titleID,
		Version:   version,
		ContentID: contentID,
		Payload:   payload,
	}, nil
}

// ContentEntries parses the metadata titles referenced by a descriptor
// payload.
func (c *Client) ContentEntries(payload []byte) ([]update.MetaEntry, error) {
	return cnmt.MetaEntries(payload)
}

// DownloadMeta fetches the metadata title of every entry with bounded
// parallelism, invoking onMeta once per completed item. It returns the
// content entries parsed out of the downloaded metas; delivery order across
// items is unspecified. The first failure cancels the remaining fetches.
func (c *Client) DownloadMeta(ctx context.Context, entries []update.MetaEntry, onMeta MetaHandler) ([]update.ContentEntry, error) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.limit)

	var (
		mu       sync.Mutex
		contents []update.ContentEntry
	)

	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			data, contentID, err := c.fetch(ctx, c.contentURL+fmt.Sprintf(titleMetaPathFormat, entry.TitleID, entry.Version))
			if err != nil {
				return fmt.Errorf("fetch meta %016x: %w", entry.TitleID, err)
			}

			if contentID == "" {
				return fmt.Errorf("meta %016x: %w", entry.TitleID, errMissingContentID)
			}

			parsed, err := cnmt.ContentEntries(data)
			if err != nil {
				return fmt.Errorf("parse meta %016x: %w", entry.TitleID, err)
			}

			mu.Lock()
			contents = append(contents, parsed...)
			mu.Unlock()

			return onMeta(data, entry.TitleID, contentID, entry.Version)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return contents, nil
}

// DownloadContent fetches every content blob with bounded parallelism,
// invoking onContent once per completed item. The first failure cancels the
// remaining fetches.
func (c *Client) DownloadContent(ctx context.Context, entries []update.ContentEntry, onContent ContentHandler) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.limit)

	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			data, _, err := c.fetch(ctx, c.contentURL+fmt.Sprintf(contentPathFormat, entry.ID))
			if err != nil {
				return fmt.Errorf("fetch content %s: %w", entry.ID, err)
			}

			return onContent(data, entry.ID)
		})
	}

	return group.Wait()
}

// latestMeta queries the latest-update endpoint and returns the system
// update title and its packed version.
func (c *Client) latestMeta(ctx context.Context) (uint64, update.Version, error) {
	data, _, err := c.fetch(ctx, c.metaURL+latestUpdatePath)
	if err != nil {
		return 0, 0, fmt.Errorf("query latest update: %w", err)
	}

	var decoded latestUpdateResponse
	if err = json.Unmarshal(data, &decoded); err != nil {
		return 0, 0, fmt.Errorf("decode latest update: %w", err)
	}

	if len(decoded.SystemUpdateMetas) == 0 {
		return 0, 0, errEmptyUpdateList
	}

	latest := decoded.SystemUpdateMetas[0]

	titleID, err := strconv.ParseUint(strings.TrimPrefix(latest.TitleID, "0x"), 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse title id %q: %w", latest.TitleID, err)
	}

	return titleID, update.Version(latest.TitleVersion), nil
}

// fetch performs one authenticated GET and returns the body together with
// the content identifier header when the server provides one.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, "", err
	}

	query := request.URL.Query()
	query.Set("device_id", c.deviceID)
	request.URL.RawQuery = query.Encode()

	logger.DebugKV(ctx, "CDN request", "url", request.URL.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, "", err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%s, %s: %w", rawURL, response.Status, errBadHTTPStatus)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", err
	}

	return data, response.Header.Get(contentIDHeader), nil
}
