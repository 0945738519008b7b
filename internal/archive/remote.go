package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
)

// RemoteProvisioner manages shards hosted by an archive node over HTTP.
type RemoteProvisioner struct {
	baseURL string
	http    *http.Client
}

// NewRemoteProvisioner creates a RemoteProvisioner targeting the archive node at baseURL.
func NewRemoteProvisioner(baseURL string, timeout time.Duration) *RemoteProvisioner {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RemoteProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (p *RemoteProvisioner) WithHTTPClient(c *http.Client) *RemoteProvisioner {
	p.http = c
	return p
}

func (p *RemoteProvisioner) Provision(ctx context.Context, spec ShardSpec) (Shard, error) {
	var info Info
	if err := p.do(ctx, http.MethodPost, "/api/v1/shards", spec, &info); err != nil {
		return nil, fmt.Errorf("provision shard: %w", err)
	}
	return &remoteShard{p: p, ref: info.Ref}, nil
}

func (p *RemoteProvisioner) Open(ctx context.Context, ref ShardRef) (Shard, error) {
	if err := p.do(ctx, http.MethodGet, shardPath(ref), nil, &Info{}); err != nil {
		return nil, err
	}
	return &remoteShard{p: p, ref: ref}, nil
}

func (p *RemoteProvisioner) TopUp(ctx context.Context, ref ShardRef, amount uint64) error {
	return p.do(ctx, http.MethodPost, shardPath(ref)+"/topup", map[string]uint64{"amount": amount}, nil)
}

func (p *RemoteProvisioner) Stop(ctx context.Context, ref ShardRef) error {
	return p.do(ctx, http.MethodPost, shardPath(ref)+"/stop", nil, nil)
}

func (p *RemoteProvisioner) Start(ctx context.Context, ref ShardRef) error {
	return p.do(ctx, http.MethodPost, shardPath(ref)+"/start", nil, nil)
}

// List returns every shard the archive node hosts.
func (p *RemoteProvisioner) List(ctx context.Context) ([]Info, error) {
	var out []Info
	if err := p.do(ctx, http.MethodGet, "/api/v1/shards", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *RemoteProvisioner) Callback(ref ShardRef) string {
	return p.baseURL + CallbackPath(ref)
}

func shardPath(ref ShardRef) string {
	return "/api/v1/shards/" + url.PathEscape(string(ref))
}

// do sends in as JSON and decodes the response into out. Transport failures
// and 503 map to ErrShardUnavailable, 404 to ErrNotFound.
func (p *RemoteProvisioner) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrShardUnavailable, method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrShardUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrShardUnavailable, remoteMessage(raw))
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrNonContiguous, remoteMessage(raw))
	case resp.StatusCode == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %s", ErrCapacity, remoteMessage(raw))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("archive node returned status %d: %s", resp.StatusCode, remoteMessage(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func remoteMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

type remoteShard struct {
	p   *RemoteProvisioner
	ref ShardRef
}

func (s *remoteShard) Ref() ShardRef { return s.ref }

func (s *remoteShard) Append(ctx context.Context, blocks []icrc3.Block) error {
	return s.p.do(ctx, http.MethodPost, shardPath(s.ref)+"/blocks", blocks, nil)
}

func (s *remoteShard) GetBlocks(ctx context.Context, start, length uint64) ([]icrc3.Block, error) {
	out := []icrc3.Block{}
	req := map[string]uint64{"start": start, "length": length}
	if err := s.p.do(ctx, http.MethodPost, shardPath(s.ref)+"/get_blocks", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *remoteShard) Info(ctx context.Context) (Info, error) {
	var info Info
	err := s.p.do(ctx, http.MethodGet, shardPath(s.ref), nil, &info)
	return info, err
}

func (s *remoteShard) Configure(ctx context.Context, controllers []identity.Principal) error {
	req := map[string][]identity.Principal{"controllers": controllers}
	return s.p.do(ctx, http.MethodPost, shardPath(s.ref)+"/configure", req, nil)
}
