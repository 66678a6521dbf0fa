package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	zerr "github.com/darkware/zapretd/pkg/errors"
	"github.com/darkware/zapretd/pkg/protocol"
)

// Client talks to a running daemon.
type Client struct {
	socketPath string
}

// Dial returns a Client for the daemon socket at path. Connections are made per request.
func Dial(path string) *Client {
	return &Client{socketPath: path}
}

// Do sends req and reads the reply. The connection deadline follows ctx.
func (c *Client) Do(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Op, err)
	}
	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read %s reply: %w", req.Op, err)
	}
	return &resp, nil
}

// Err turns a failed response back into a coded error.
func Err(resp *protocol.Response) error {
	if resp == nil || resp.OK {
		return nil
	}
	return zerr.New(zerr.ErrorCode(resp.Code), "Control", resp.Error, nil)
}

// Personal.AI order the ending
