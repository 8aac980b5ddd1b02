package control

import (
	"fmt"
	"net"

	"github.com/gen2brain/crasd/internal/iodev"
)

// Client is a thin control-socket client for command-line tools
// (crasctl) and other in-process callers that want to drive a running
// server without reimplementing the wire format.
type Client struct {
	conn     *net.UnixConn
	ClientID uint16
}

// Dial connects to a server's control socket and completes the handshake.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", socketPath, err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("control: %s did not yield a unix socket connection", socketPath)
	}

	msgType, body, err := readFrame(unixConn)
	if err != nil {
		_ = unixConn.Close()
		return nil, fmt.Errorf("control: handshake: %w", err)
	}
	if msgType != MsgClientConnected {
		_ = unixConn.Close()
		return nil, fmt.Errorf("control: handshake: unexpected message type %d", msgType)
	}
	hello, err := decodeClientConnected(body)
	if err != nil {
		_ = unixConn.Close()
		return nil, err
	}

	return &Client{conn: unixConn, ClientID: hello.ClientID}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SetSystemVolume sets the system-wide volume step (0..100).
func (c *Client) SetSystemVolume(volume int32) error {
	return writeFrame(c.conn, MsgSetSystemVolume, SetSystemVolume{Volume: volume}.encode())
}

// SetNodeAttr mutates one attribute of a node by its stable id.
func (c *Client) SetNodeAttr(nodeID uint64, attr NodeAttr, value int32) error {
	return writeFrame(c.conn, MsgSetNodeAttr, SetNodeAttr{NodeID: nodeID, Attr: attr, Value: value}.encode())
}

// SelectNode makes nodeID the active node for dir.
func (c *Client) SelectNode(dir iodev.Direction, nodeID uint64) error {
	return writeFrame(c.conn, MsgSelectNode, SelectNode{Direction: dir, NodeID: nodeID}.encode())
}
