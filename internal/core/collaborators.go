package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"archivecore/pkg/domain"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// IdentifierMinter issues and maintains external persistent identifiers.
type IdentifierMinter interface {
	// Mint issues a new identifier for rec.
	Mint(ctx context.Context, rec domain.Record) (string, error)
	// Update refreshes the metadata registered against identifier.
	Update(ctx context.Context, identifier string, rec domain.Record) error
}

// MetadataFetcher retrieves descriptive metadata for a source identifier.
type MetadataFetcher interface {
	Fetch(ctx context.Context, sourceID string) (map[string][]string, error)
}

// LocalMinter mints ARK-style identifiers locally and keeps the last
// registered title for each.
type LocalMinter struct {
	Shoulder string
	mu       sync.Mutex
	titles   map[string]string
}

// NewLocalMinter returns a minter issuing identifiers under shoulder
// (for example "ark:/99999/fk4").
func NewLocalMinter(shoulder string) *LocalMinter {
	return &LocalMinter{Shoulder: strings.TrimSuffix(shoulder, "/"), titles: make(map[string]string)}
}

// Mint implements IdentifierMinter.
func (m *LocalMinter) Mint(_ context.Context, rec domain.Record) (string, error) {
	id := m.Shoulder + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[id] = rec.First(domain.AttrTitle)
	return id, nil
}

// Update implements IdentifierMinter.
func (m *LocalMinter) Update(_ context.Context, identifier string, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.titles[identifier]; !ok {
		return &domain.ExternalServiceError{Service: "minter", Err: fmt.Errorf("unknown identifier %s", identifier)}
	}
	m.titles[identifier] = rec.First(domain.AttrTitle)
	return nil
}

// Title returns the title last registered for identifier.
func (m *LocalMinter) Title(identifier string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titles[identifier]
}

// HTTPMetadataFetcher loads metadata from a JSON endpoint: GET
// <BaseURL>/<sourceID> returning an object of string or string-array fields.
type HTTPMetadataFetcher struct {
	BaseURL    string
	Client     *http.Client
	MaxRetries uint64
	Backoff    time.Duration
}

// NewHTTPMetadataFetcher builds a fetcher with a 10s client timeout.
func NewHTTPMetadataFetcher(baseURL string) *HTTPMetadataFetcher {
	return &HTTPMetadataFetcher{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Client:     &http.Client{Timeout: 10 * time.Second},
		MaxRetries: 2,
		Backoff:    200 * time.Millisecond,
	}
}

// Fetch implements MetadataFetcher. 5xx responses and transport errors are
// retried; every failure is reported as *domain.ExternalServiceError.
func (f *HTTPMetadataFetcher) Fetch(ctx context.Context, sourceID string) (map[string][]string, error) {
	endpoint := f.BaseURL + "/" + url.PathEscape(sourceID)
	var out map[string][]string
	backoff := f.Backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	b := retry.WithMaxRetries(f.MaxRetries, retry.NewExponential(backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		fields, err := f.fetchOnce(ctx, endpoint)
		if err != nil {
			return err
		}
		out = fields
		return nil
	})
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "metadata " + f.BaseURL, Err: err}
	}
	return out, nil
}

func (f *HTTPMetadataFetcher) fetchOnce(ctx context.Context, endpoint string) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, retry.RetryableError(err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, retry.RetryableError(fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}
	return decodeMetadata(body)
}

func decodeMetadata(body []byte) (map[string][]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	out := make(map[string][]string, len(raw))
	for key, msg := range raw {
		var many []string
		if err := json.Unmarshal(msg, &many); err == nil {
			out[key] = many
			continue
		}
		var one string
		if err := json.Unmarshal(msg, &one); err != nil {
			return nil, fmt.Errorf("decode metadata field %s: %w", key, errors.New("expected string or string array"))
		}
		out[key] = []string{one}
	}
	return out, nil
}
