package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPPeerClientReportsAndCachesConfirmations(t *testing.T) {
	var requests atomic.Int32
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		txHash := strings.TrimPrefix(r.URL.Path, IndexingErrorPath)
		if txHash != "0xbad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ErrorReport{Txhash: txHash, BlockNumber: 9, Message: "boom"})
	}))
	t.Cleanup(peer.Close)

	client, err := NewHTTPPeerClient(time.Second, 8)
	require.NoError(t, err)
	ctx := context.Background()

	reported, err := client.Reported(ctx, peer.URL+"/", "0xbad")
	require.NoError(t, err)
	require.True(t, reported)

	reported, err = client.Reported(ctx, peer.URL+"/", "0xbad")
	require.NoError(t, err)
	require.True(t, reported)
	require.Equal(t, int32(1), requests.Load())

	reported, err = client.Reported(ctx, peer.URL, "0xgood")
	require.NoError(t, err)
	require.False(t, reported)
}

func TestHTTPPeerClientSurfacesUnexpectedStatus(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(peer.Close)

	client, err := NewHTTPPeerClient(0, 0)
	require.NoError(t, err)

	_, err = client.Reported(context.Background(), peer.URL, "0xbad")
	require.Error(t, err)
}
