package rpcserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaymesh/plexy/internal/tunnelstate"
)

// Client is a minimal JSON-RPC 2.0 client for the methods Server exposes,
// used by the CLI and dashboard to talk to a running daemon's RPC surface
// over HTTP instead of linking against the daemon package directly.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client pointed at a daemon's RPC surface.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) call(method string, params, result any) error {
	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: marshalParams(params), ID: json.RawMessage("1")})
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Post(c.BaseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.Error != nil {
		return fmt.Errorf("rpc error %d: %s", env.Error.Code, env.Error.Message)
	}
	if result == nil {
		return nil
	}
	b, err := json.Marshal(env.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func marshalParams(params any) json.RawMessage {
	if params == nil {
		return nil
	}
	b, _ := json.Marshal(params)
	return b
}

// NumberOfTunnels calls the numberOfTunnels RPC method.
func (c *Client) NumberOfTunnels() (int, error) {
	var n int
	err := c.call("numberOfTunnels", nil, &n)
	return n, err
}

// Status calls the tunnelInfo RPC method.
func (c *Client) Status(localText string) (map[string]tunnelstate.TunnelStats, error) {
	var out map[string]tunnelstate.TunnelStats
	err := c.call("tunnelInfo", localParam{Local: localText}, &out)
	return out, err
}

// Remotes calls the remotes RPC method.
func (c *Client) Remotes(localText string) (live, dead []string, err error) {
	var out struct {
		Live []string `json:"live"`
		Dead []string `json:"dead"`
	}
	err = c.call("remotes", localParam{Local: localText}, &out)
	return out.Live, out.Dead, err
}

// ListTunnels calls the listTunnels RPC method.
func (c *Client) ListTunnels() ([]string, error) {
	var out []string
	err := c.call("listTunnels", nil, &out)
	return out, err
}

// OpenTunnel calls the open RPC method.
func (c *Client) OpenTunnel(specText string) error {
	return c.call("open", tunnelParam{Tunnel: specText}, nil)
}

// CloseTunnel calls the close RPC method.
func (c *Client) CloseTunnel(localText string) error {
	return c.call("close", localParam{Local: localText}, nil)
}

// AddRemote calls the addRemote RPC method.
func (c *Client) AddRemote(localText, remoteText string) error {
	return c.call("addRemote", remoteParam{Local: localText, Remote: remoteText}, nil)
}

// RemoveRemote calls the removeRemote RPC method.
func (c *Client) RemoveRemote(localText, remoteText string) error {
	return c.call("removeRemote", remoteParam{Local: localText, Remote: remoteText}, nil)
}
