package source

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/escribano/mapcache/pkg/logger"
)

// HTTPSource renders tiles by fetching them from an upstream tile server.
// The URL template understands {z}, {x}, {y}, {grid} and {dim:NAME}
// placeholders.
type HTTPSource struct {
	urlTemplate string
	headers     map[string]string
	httpClient  *http.Client
	logger      logger.Logger
}

var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(urlTemplate string, headers map[string]string, timeout time.Duration, l logger.Logger) *HTTPSource {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		urlTemplate: urlTemplate,
		headers:     headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: l,
	}
}

func (s *HTTPSource) tileURL(t Tile, dims map[string]string) string {
	pairs := []string{
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{grid}", t.Grid,
	}
	for name, value := range dims {
		pairs = append(pairs, "{dim:"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(s.urlTemplate)
}

func (s *HTTPSource) Render(ctx context.Context, t Tile, dims map[string]string) ([]byte, error) {
	url := s.tileURL(t, dims)
	s.logger.Debug("fetching tile from upstream", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, renderErr("failed to create request: %v", err)
	}
	for name, value := range s.headers {
		req.Header.Set(name, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("failed to fetch from upstream", "url", url, "error", err)
		return nil, renderErr("failed to fetch tile from upstream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrEmptyTile
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("upstream returned non-200", "url", url, "status", resp.StatusCode)
		return nil, renderErr("upstream returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, renderErr("failed to read tile data: %v", err)
	}

	s.logger.Debug("fetched tile from upstream", "url", url, "size", len(data))

	return data, nil
}
