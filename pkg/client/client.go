package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"
	cache "github.com/patrickmn/go-cache"

	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/certification"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the server reports 503, typically a
	// stopped shard.
	ErrUnavailable = errors.New("service unavailable")
)

const (
	defaultTimeout      = 10 * time.Second
	defaultCacheTTL     = 10 * time.Minute
	maxResponseBodySize = 64 << 20
)

// Client talks to one ledger server.
type Client struct {
	ledgerBase string
	httpClient *http.Client
	// archived blocks never change, so they can be cached by range.
	archived *cache.Cache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithArchiveCacheTTL keeps fetched archived blocks for ttl. Zero disables
// the cache.
func WithArchiveCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			c.archived = nil
			return nil
		}
		c.archived = cache.New(ttl, 2*ttl)
		return nil
	}
}

// New creates a Client for the ledger at ledgerBase.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithArchiveCacheTTL(time.Hour),
//	)
func New(ledgerBase string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(ledgerBase); err != nil {
		return nil, fmt.Errorf("parse ledger URL: %w", err)
	}
	c := &Client{
		ledgerBase: strings.TrimRight(ledgerBase, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		archived:   cache.New(defaultCacheTTL, 2*defaultCacheTTL),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(ledgerBase string, opts ...Option) *Client {
	c, err := New(ledgerBase, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Dispatch submits actions and returns one result per action.
func (c *Client) Dispatch(ctx context.Context, actions []ledger.Action) ([]ledger.Result, error) {
	var out []ledger.Result
	if err := c.call(ctx, http.MethodPost, c.ledgerBase+"/api/v1/dispatch", actions, &out); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if len(out) != len(actions) {
		return nil, fmt.Errorf("dispatch: got %d results for %d actions", len(out), len(actions))
	}
	return out, nil
}

// GetBlocks runs a raw get_blocks query.
func (c *Client) GetBlocks(ctx context.Context, ranges []ledger.Range) (*ledger.GetBlocksResult, error) {
	var out ledger.GetBlocksResult
	if err := c.call(ctx, http.MethodPost, c.ledgerBase+"/api/v1/icrc3/get_blocks", ranges, &out); err != nil {
		return nil, fmt.Errorf("get blocks: %w", err)
	}
	return &out, nil
}

// FetchArchived resolves one archive descriptor. Its callback is used when
// present; otherwise the ledger serves the shard's blocks itself.
func (c *Client) FetchArchived(ctx context.Context, ar ledger.ArchivedRange) ([]icrc3.Block, error) {
	var out []icrc3.Block
	for _, r := range ar.Args {
		key := fmt.Sprintf("%s/%d/%d", ar.Shard, r.Start, r.Length)
		if c.archived != nil {
			if v, ok := c.archived.Get(key); ok {
				out = append(out, v.([]icrc3.Block)...)
				continue
			}
		}

		var blocks []icrc3.Block
		var err error
		if ar.Callback != "" {
			err = c.call(ctx, http.MethodPost, ar.Callback, r, &blocks)
		} else {
			one := ledger.ArchivedRange{Args: []ledger.Range{r}, Shard: ar.Shard}
			err = c.call(ctx, http.MethodPost, c.ledgerBase+"/api/v1/icrc3/archived_blocks", one, &blocks)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch archived [%d, +%d) from %s: %w", r.Start, r.Length, ar.Shard, err)
		}
		if c.archived != nil && uint64(len(blocks)) == r.Length {
			c.archived.Set(key, blocks, cache.DefaultExpiration)
		}
		out = append(out, blocks...)
	}
	return out, nil
}

// Blocks returns [start, start+length) in id order, following every archive
// descriptor. Live blocks are capped per call by the server, so Blocks keeps
// asking until the range or the log is exhausted.
func (c *Client) Blocks(ctx context.Context, start, length uint64) ([]icrc3.Block, error) {
	var out []icrc3.Block
	next, end := start, start+length
	if end < start {
		end = ^uint64(0)
	}
	for next < end {
		res, err := c.GetBlocks(ctx, []ledger.Range{{Start: next, Length: end - next}})
		if err != nil {
			return nil, err
		}
		end = min(end, res.LogLength)
		got := 0
		for _, ar := range res.ArchivedBlocks {
			blocks, err := c.FetchArchived(ctx, ar)
			if err != nil {
				return nil, err
			}
			out = append(out, blocks...)
			got += len(blocks)
		}
		out = append(out, res.Blocks...)
		got += len(res.Blocks)
		if got == 0 {
			break
		}
		next = out[len(out)-1].ID + 1
	}
	return out, nil
}

// Archives lists the shards holding archived blocks, after from when set.
func (c *Client) Archives(ctx context.Context, from string) ([]archive.ShardSpan, error) {
	u := c.ledgerBase + "/api/v1/icrc3/archives"
	if from != "" {
		u += "?from=" + url.QueryEscape(from)
	}
	var out []archive.ShardSpan
	if err := c.call(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("archives: %w", err)
	}
	return out, nil
}

// BalanceOf returns the balance of owner's subaccount. Both are hex; an empty
// subaccount is the default one.
func (c *Client) BalanceOf(ctx context.Context, owner, subaccount string) (*uint256.Int, error) {
	q := url.Values{"owner": {owner}}
	if subaccount != "" {
		q.Set("subaccount", subaccount)
	}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, http.MethodGet, c.ledgerBase+"/api/v1/icrc1/balance_of?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("balance of %s: %w", owner, err)
	}
	bal, err := uint256.FromDecimal(out.Balance)
	if err != nil {
		return nil, fmt.Errorf("decode balance %q: %w", out.Balance, err)
	}
	return bal, nil
}

// TipCertificate returns the current tip certificate, nil for an empty ledger.
func (c *Client) TipCertificate(ctx context.Context) (*certification.DataCertificate, error) {
	var out *certification.DataCertificate
	if err := c.call(ctx, http.MethodGet, c.ledgerBase+"/api/v1/icrc3/tip_certificate", nil, &out); err != nil {
		return nil, fmt.Errorf("tip certificate: %w", err)
	}
	return out, nil
}

// PublicKey fetches the key the ledger signs tip certificates with.
func (c *Client) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ledgerBase+"/api/v1/public_key", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	return identity.ParsePublicKeyPEM(string(raw))
}

// VerifiedTip fetches the tip certificate and checks it against pub. A nil
// Tip means the ledger is empty.
func (c *Client) VerifiedTip(ctx context.Context, pub *rsa.PublicKey, ledgerID string) (*certification.Tip, error) {
	cert, err := c.TipCertificate(ctx)
	if err != nil || cert == nil {
		return nil, err
	}
	tip, err := certification.Verify(cert, pub, ledgerID)
	if err != nil {
		return nil, err
	}
	return &tip, nil
}

// ComputeHash asks the ledger for the representation-independent hash of v.
func (c *Client) ComputeHash(ctx context.Context, v icrc3.Value) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, http.MethodPost, c.ledgerBase+"/api/v1/compute_hash", v, &out); err != nil {
		return "", fmt.Errorf("compute hash: %w", err)
	}
	return out.Hash, nil
}

// LastModified returns when the ledger state last changed, zero if never.
func (c *Client) LastModified(ctx context.Context) (time.Time, error) {
	var out struct {
		LastModified int64 `json:"last_modified"`
	}
	if err := c.call(ctx, http.MethodGet, c.ledgerBase+"/api/v1/last_modified", nil, &out); err != nil {
		return time.Time{}, fmt.Errorf("last modified: %w", err)
	}
	if out.LastModified == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, out.LastModified).UTC(), nil
}

// Stats returns the ledger's summary counters.
func (c *Client) Stats(ctx context.Context) (*ledger.Stats, error) {
	var out ledger.Stats
	if err := c.call(ctx, http.MethodGet, c.ledgerBase+"/api/v1/stats", nil, &out); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &out, nil
}

// RunArchive triggers one archival pass and returns the resulting stats.
func (c *Client) RunArchive(ctx context.Context) (*ledger.Stats, error) {
	var out ledger.Stats
	if err := c.call(ctx, http.MethodPost, c.ledgerBase+"/api/v1/archive/run", nil, &out); err != nil {
		return nil, fmt.Errorf("run archive: %w", err)
	}
	return &out, nil
}

// call sends in as JSON and decodes the response into out.
func (c *Client) call(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request and maps error statuses.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, errorMessage(body))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
