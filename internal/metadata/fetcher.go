// Package metadata fetches the JSON documents token URIs resolve to.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"artmarket/internal/markerrors"
	"artmarket/internal/model"
)

const maxDocumentSize = 1 << 20

// Fetcher retrieves token metadata over HTTP(S) with an explicit timeout.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and decodes the metadata document at uri.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (model.TokenMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("%w: malformed metadata uri %s", markerrors.ErrInvalidInput, uri)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.TokenMetadata{}, fmt.Errorf("fetch metadata %s: %w", uri, markerrors.ErrTimeout)
		}
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return model.TokenMetadata{}, fmt.Errorf("fetch metadata %s: %w", uri, markerrors.ErrTimeout)
		}
		return model.TokenMetadata{}, fmt.Errorf("fetch metadata %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.TokenMetadata{}, fmt.Errorf("fetch metadata %s: status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("read metadata %s: %w", uri, err)
	}

	var meta model.TokenMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return model.TokenMetadata{}, fmt.Errorf("parse metadata %s: %w", uri, err)
	}
	return meta, nil
}
