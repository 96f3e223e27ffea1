// Package catalogsource implements the abstract CatalogSource
// collaborator (§6): a rate-limited REST client that fetches a
// snapshot of groups/channels and derives the catalog paths §6
// specifies. It is grounded on the teacher's real_debrid.RealDebridClient
// (Bearer-token Do() wrapper around an x/time/rate limiter), generalized
// from a torrent-debrid API to the group/channel catalog contract.
package catalogsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"smfs/internal/catalog"
	"smfs/internal/smfserr"
)

// Channel is one leaf entry under a group in the source's response.
type Channel struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Group is one top-level entry, keyed by group-id string in the raw
// response map.
type Group struct {
	Name string    `json:"name"`
	URL  string    `json:"url"`
	SMFS []Channel `json:"smfs"`
}

// Snapshot is the raw decoded response: group-id (string of an integer)
// to Group.
type Snapshot map[string]Group

// Source fetches catalog snapshots. Production code uses Client; tests
// substitute a stub.
type Source interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// Client is the REST implementation, rate-limited the way the teacher's
// RealDebridClient rate-limits its own catalog calls.
type Client struct {
	Host                  string
	Port                  int
	APIKey                string
	StreamGroupProfileIDs []string
	IsShort               bool

	http    http.Client
	limiter *rate.Limiter
}

// NewClient builds a Client rate-limited to 245 requests per 60 seconds,
// matching the teacher's real_debrid limiter tuning.
func NewClient(host string, port int, apiKey string, streamGroupProfileIDs []string, isShort bool) *Client {
	return &Client{
		Host:                  host,
		Port:                  port,
		APIKey:                apiKey,
		StreamGroupProfileIDs: streamGroupProfileIDs,
		IsShort:               isShort,
		http:                  http.Client{Timeout: 30 * time.Second},
		limiter:               rate.NewLimiter(rate.Every(time.Minute/245), 245),
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	return c.http.Do(req)
}

// FetchSnapshot performs one GET against the configured host/port and
// decodes the group map. Callers apply the §4.F/§6 exponential-backoff
// retry policy around this call; FetchSnapshot itself does not retry.
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	url := fmt.Sprintf("http://%s:%d/api/catalog", c.Host, c.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, smfserr.New("fetch_snapshot", url, smfserr.KindInvalid, err)
	}

	q := req.URL.Query()
	for _, id := range c.StreamGroupProfileIDs {
		q.Add("stream_group_profile_id", id)
	}
	if c.IsShort {
		q.Set("is_short", "true")
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.do(req)
	if err != nil {
		return nil, smfserr.New("fetch_snapshot", url, smfserr.KindNetworkTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var snap Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return nil, smfserr.New("fetch_snapshot", url, smfserr.KindNetworkFatal, err)
		}
		return snap, nil
	case resp.StatusCode >= 500:
		return nil, smfserr.New("fetch_snapshot", url, smfserr.KindNetworkTransient, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, smfserr.New("fetch_snapshot", url, smfserr.KindNetworkFatal, fmt.Errorf("status %d", resp.StatusCode))
	}
}

// ToEntries derives the catalog.SnapshotEntry rows from a raw Snapshot
// per the path-derivation rules in §6: group directory, group .xml/.m3u
// (URL is the group's base URL, unchanged by extension), channel
// directory, channel .ts/.strm.
func ToEntries(snap Snapshot) []catalog.SnapshotEntry {
	var entries []catalog.SnapshotEntry

	for _, group := range snap {
		groupDir := "/" + group.Name
		entries = append(entries, catalog.SnapshotEntry{Path: groupDir, Kind: catalog.KindDirectory})
		entries = append(entries, catalog.SnapshotEntry{
			Path: groupDir + "/" + group.Name + ".xml",
			Kind: catalog.KindRemoteFile,
			URL:  group.URL,
		})
		entries = append(entries, catalog.SnapshotEntry{
			Path: groupDir + "/" + group.Name + ".m3u",
			Kind: catalog.KindRemoteFile,
			URL:  group.URL,
		})

		for _, ch := range group.SMFS {
			channelDir := groupDir + "/" + ch.Name
			entries = append(entries, catalog.SnapshotEntry{Path: channelDir, Kind: catalog.KindDirectory})
			entries = append(entries, catalog.SnapshotEntry{
				Path: channelDir + "/" + ch.Name + ".ts",
				Kind: catalog.KindRemoteFile,
				URL:  ch.URL,
			})
			entries = append(entries, catalog.SnapshotEntry{
				Path: channelDir + "/" + ch.Name + ".strm",
				Kind: catalog.KindRemoteFile,
				URL:  ch.URL,
			})
		}
	}

	return entries
}

// FetchWithRetry retries FetchSnapshot with the 1,2,4,8,16,32s
// exponential backoff capped at 5 attempts required by §4.F/§6.
func FetchWithRetry(ctx context.Context, src Source) (Snapshot, error) {
	const maxAttempts = 5
	delay := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snap, err := src.FetchSnapshot(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err

		if smfserr.KindOf(err) == smfserr.KindNetworkFatal {
			return nil, err
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		if delay < 32*time.Second {
			delay *= 2
		}
	}

	return nil, lastErr
}
