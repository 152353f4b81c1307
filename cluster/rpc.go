package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/decred/slog"
)

// Inter-node RPC paths. Every node serves /cluster/handoff; matchmaker
// nodes additionally serve match_make and cancel_match, and lobby nodes
// serve match_result and cancel_match_result for the async replies.
const (
	PathHandoff           = "/cluster/handoff"
	PathMatchMake         = "/cluster/match_make"
	PathCancelMatch       = "/cluster/cancel_match"
	PathMatchResult       = "/cluster/match_result"
	PathCancelMatchResult = "/cluster/cancel_match_result"
)

type HandoffResponse struct {
	Token string `json:"token"`
}

// MatchMakeRequest asks a matchmaker node to queue a player. ReplyAddr is
// the origin lobby's cluster address for the async MatchResult.
type MatchMakeRequest struct {
	ID        string `json:"id"`
	ReplyAddr string `json:"reply_addr"`
}

// MatchResult is the matchmaker's async completion report to the lobby
// that queued the player.
type MatchResult struct {
	ID      string `json:"id"`
	Result  string `json:"result"`
	MatchID string `json:"match_id,omitempty"`
	A       string `json:"player_a,omitempty"`
	B       string `json:"player_b,omitempty"`
}

// CancelMatchRequest withdraws a queued player. Detached requests come from
// transport teardown and want no reply.
type CancelMatchRequest struct {
	ID        string `json:"id"`
	ReplyAddr string `json:"reply_addr,omitempty"`
	Detached  bool   `json:"detached,omitempty"`
}

// CancelMatchResult is the async reply to a cancel request.
type CancelMatchResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// Client issues JSON RPCs to peer nodes.
type Client struct {
	http *http.Client
	log  slog.Logger
}

func NewClient(log slog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

func (c *Client) post(ctx context.Context, addr, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s%s: status %d", addr, path, httpResp.StatusCode)
	}
	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

// RegisterHandoff registers blob on the target peer and returns the claim
// token the client reconnects with.
func (c *Client) RegisterHandoff(ctx context.Context, peer Peer, blob HandoffBlob) (string, error) {
	var resp HandoffResponse
	if err := c.post(ctx, peer.Addr, PathHandoff, blob, &resp); err != nil {
		return "", fmt.Errorf("failed to register handoff on %s: %w", peer.Addr, err)
	}
	return resp.Token, nil
}

// MatchMake queues a player on a matchmaker peer. The outcome arrives
// asynchronously at the reply address.
func (c *Client) MatchMake(ctx context.Context, peer Peer, req MatchMakeRequest) error {
	return c.post(ctx, peer.Addr, PathMatchMake, req, nil)
}

// CancelMatch withdraws a player from a matchmaker peer.
func (c *Client) CancelMatch(ctx context.Context, peer Peer, req CancelMatchRequest) error {
	return c.post(ctx, peer.Addr, PathCancelMatch, req, nil)
}

// SendMatchResult delivers a completion report to a lobby node.
func (c *Client) SendMatchResult(ctx context.Context, addr string, res MatchResult) error {
	return c.post(ctx, addr, PathMatchResult, res, nil)
}

// SendCancelResult delivers a cancel outcome to a lobby node.
func (c *Client) SendCancelResult(ctx context.Context, addr string, res CancelMatchResult) error {
	return c.post(ctx, addr, PathCancelMatchResult, res, nil)
}
