package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultPeerTimeout   = 5 * time.Second
	defaultPeerCacheSize = 1024
	// IndexingErrorPath is the peer route serving recorded indexing errors.
	IndexingErrorPath = "/v1/indexing/errors/"
)

// HTTPPeerClient queries peers over their indexing error route. Positive
// answers are cached since a recorded error is never withdrawn.
type HTTPPeerClient struct {
	client *http.Client
	cache  *lru.Cache
}

// NewHTTPPeerClient builds a client with the given request timeout and
// cache size. Non-positive values select defaults.
func NewHTTPPeerClient(timeout time.Duration, cacheSize int) (*HTTPPeerClient, error) {
	if timeout <= 0 {
		timeout = defaultPeerTimeout
	}
	if cacheSize <= 0 {
		cacheSize = defaultPeerCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &HTTPPeerClient{client: &http.Client{Timeout: timeout}, cache: cache}, nil
}

// Reported implements PeerClient.
func (c *HTTPPeerClient) Reported(ctx context.Context, peer string, txHash string) (bool, error) {
	cacheKey := peer + "|" + txHash
	if _, hit := c.cache.Get(cacheKey); hit {
		return true, nil
	}
	endpoint := strings.TrimRight(peer, "/") + IndexingErrorPath + url.PathEscape(txHash)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	response, err := c.client.Do(request)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	var report ErrorReport
	if err := json.NewDecoder(response.Body).Decode(&report); err != nil {
		return false, fmt.Errorf("decode report: %w", err)
	}
	if report.Txhash != txHash {
		return false, nil
	}
	c.cache.Add(cacheKey, report)
	return true, nil
}
