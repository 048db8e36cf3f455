package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/config"
	"github.com/datapulse-io/datapulse-engine/pkg/logging"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/tabular"
)

// recognizedAuthSchemes are the prefixes an Authorization header value must
// start with. Anything else is a misconfiguration and disables the
// workspace before a credential leaks into a malformed request.
var recognizedAuthSchemes = []string{"Bearer ", "Basic ", "Token ", "ApiKey ", "Digest "}

// APIFetcher pulls one snapshot from a workspace's HTTP source under the
// size and time caps, and persists it as a new upload.
type APIFetcher interface {
	Fetch(ctx context.Context, workspace *models.Workspace) (*models.Upload, *PollFailure)
}

type apiFetcher struct {
	uploadRepo repositories.UploadRepository
	client     *http.Client
	caps       config.FetchConfig
	logger     *zap.Logger
}

// NewAPIFetcher creates the HTTP source fetcher. The shared client carries
// the connect timeout; the per-request read deadline comes from caps.
func NewAPIFetcher(uploadRepo repositories.UploadRepository, caps config.FetchConfig, logger *zap.Logger) APIFetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: caps.ConnectTimeout(),
		}).DialContext,
		TLSHandshakeTimeout:   caps.ConnectTimeout(),
		ResponseHeaderTimeout: caps.ReadTimeout(),
		MaxIdleConns:          10,
	}

	return &apiFetcher{
		uploadRepo: uploadRepo,
		client: &http.Client{
			Transport: transport,
			Timeout:   caps.ConnectTimeout() + caps.ReadTimeout(),
		},
		caps:   caps,
		logger: logger.Named("api-fetcher"),
	}
}

var _ APIFetcher = (*apiFetcher)(nil)

func (f *apiFetcher) Fetch(ctx context.Context, workspace *models.Workspace) (*models.Upload, *PollFailure) {
	cfg := workspace.APIConfig
	if cfg == nil || cfg.URL == "" {
		return nil, HardFailure("no API URL is configured", nil)
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, HardFailure("the configured API URL is not valid", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, HardFailure("the configured API URL is not valid", err)
	}

	if cfg.AuthHeaderName != "" {
		if strings.EqualFold(cfg.AuthHeaderName, "Authorization") && !hasRecognizedScheme(cfg.AuthHeaderValue) {
			return nil, HardFailure("the Authorization header value must start with a recognized auth scheme (Bearer, Basic, Token, ApiKey, Digest)", nil)
		}
		req.Header.Set(cfg.AuthHeaderName, cfg.AuthHeaderValue)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, SoftFailure("the API did not respond in time", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Size pre-check on the declared length: an oversized response is
	// rejected without ever issuing the streaming read.
	if resp.ContentLength > f.caps.MaxResponseBytes {
		return nil, HardFailure(
			fmt.Sprintf("the API response exceeds the %d MB size limit", f.caps.MaxResponseBytes/(1024*1024)), nil)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, HardFailure(fmt.Sprintf("the API rejected the configured credentials (HTTP %d)", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, SoftFailure(fmt.Sprintf("the API returned HTTP %d", resp.StatusCode), nil)
	}

	body, failure := f.readCapped(resp.Body)
	if failure != nil {
		return nil, failure
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, SoftFailure("the API returned an empty response", nil)
	}

	table, err := tabular.FromJSON(body)
	if err != nil {
		return nil, HardFailure("the API response is not valid JSON tabular data", err)
	}
	if table.RowCount() == 0 {
		return nil, SoftFailure("the API returned no rows", nil)
	}
	if table.RowCount() > f.caps.MaxRows {
		table.Rows = table.Rows[:f.caps.MaxRows]
	}

	content, err := tabular.WriteCSV(table)
	if err != nil {
		return nil, HardFailure("the API response could not be normalized", err)
	}

	upload := &models.Upload{
		WorkspaceID: workspace.ID,
		UploadType:  models.UploadTypeAPIPoll,
		Filename:    fmt.Sprintf("%s-api-poll.csv", workspace.ID),
		Content:     content,
	}
	if err := f.uploadRepo.Create(ctx, upload); err != nil {
		return nil, SoftFailure("the snapshot could not be stored", err)
	}

	f.logger.Info("api snapshot stored",
		zap.String("workspace_id", workspace.ID.String()),
		zap.String("upload_id", upload.ID.String()),
		zap.Int("rows", table.RowCount()),
		zap.String("url", logging.SanitizeConnectionString(cfg.URL)))

	return upload, nil
}

// readCapped reads the body while accumulating at most MaxResponseBytes,
// aborting early once the cap is crossed.
func (f *apiFetcher) readCapped(body io.Reader) ([]byte, *PollFailure) {
	limited := io.LimitReader(body, f.caps.MaxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, SoftFailure("reading the API response failed", err)
	}
	if int64(len(data)) > f.caps.MaxResponseBytes {
		return nil, HardFailure(
			fmt.Sprintf("the API response exceeds the %d MB size limit", f.caps.MaxResponseBytes/(1024*1024)), nil)
	}
	return data, nil
}

func hasRecognizedScheme(value string) bool {
	for _, scheme := range recognizedAuthSchemes {
		if strings.HasPrefix(value, scheme) {
			return true
		}
	}
	return false
}
