package control

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client is a thin synchronous client for the control protocol, used by the
// CLI's one-shot subcommands (tunnel open/close/status).
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to a control server listening at network/address (e.g.
// "unix", "/run/plexy/control.sock" or "tcp", "127.0.0.1:7000").
func Dial(network, address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

// Close closes the underlying connection, sending EXIT first so the server
// ends the session on its side.
func (c *Client) Close() error {
	fmt.Fprintln(c.conn, "EXIT")
	return c.conn.Close()
}

func (c *Client) roundTrip(line string) (string, error) {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := fmt.Fprintln(c.conn, line); err != nil {
		return "", err
	}
	resp, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	resp = strings.TrimRight(resp, "\r\n")
	if strings.HasPrefix(resp, "ERROR ") {
		return "", fmt.Errorf("%s", strings.TrimPrefix(resp, "ERROR "))
	}
	return resp, nil
}

// Open sends OPEN <specText> and returns an error if the server rejected it.
func (c *Client) Open(specText string) error {
	_, err := c.roundTrip("OPEN " + specText)
	return err
}

// CloseTunnel sends CLOSE <localText>.
func (c *Client) CloseTunnel(localText string) error {
	_, err := c.roundTrip("CLOSE " + localText)
	return err
}

// Status sends STATUS [localText] and returns the raw multi-line response
// body (everything up to and excluding the terminating "END" line).
func (c *Client) Status(localText string) (string, error) {
	line := "STATUS"
	if localText != "" {
		line += " " + localText
	}
	return c.readBody(line)
}

// List sends LIST and returns every open tunnel's local address, one per
// line.
func (c *Client) List() (string, error) {
	return c.readBody("LIST")
}

func (c *Client) readBody(line string) (string, error) {
	if _, err := c.roundTrip(line); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		row, err := c.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		row = strings.TrimRight(row, "\r\n")
		if row == "END" {
			break
		}
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// AddRemote sends ADD_REMOTE <localText> <remoteText>.
func (c *Client) AddRemote(localText, remoteText string) error {
	_, err := c.roundTrip("ADD_REMOTE " + localText + " " + remoteText)
	return err
}

// RemoveRemote sends REMOVE_REMOTE <localText> <remoteText>.
func (c *Client) RemoveRemote(localText, remoteText string) error {
	_, err := c.roundTrip("REMOVE_REMOTE " + localText + " " + remoteText)
	return err
}
