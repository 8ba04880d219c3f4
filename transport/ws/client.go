package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netplay/proto"
	"netplay/transport"
)

// Client connects a peer to a relay room and implements the transport
// contract over the websocket.
type Client struct {
	playerID string

	mu       sync.Mutex
	conn     *websocket.Conn
	peers    []string
	hostID   string
	state    transport.ConnectionState
	closed   bool
	handlers struct {
		message []transport.MessageHandler
		join    []func(string)
		leave   []func(string)
		change  []func(transport.ConnectionState)
		errs    []func(error)
	}
}

// Dial joins the room at url (ws://host/path?room=...) as playerID and
// starts the read loop. The first peer the relay admits is the room's host.
func Dial(url, playerID string) (*Client, error) {
	c := &Client{playerID: playerID, state: transport.StateConnecting}
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s&id=%s", url, playerID), nil)
	if err != nil {
		c.state = transport.StateDisconnected
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	c.conn = conn

	var welcome frame
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Ctrl != ctrlWelcome {
		conn.Close()
		c.state = transport.StateDisconnected
		if err == nil {
			err = fmt.Errorf("expected welcome, got %q", welcome.Ctrl)
		}
		return nil, fmt.Errorf("join room: %w", err)
	}
	c.peers = welcome.Peers
	c.hostID = welcome.HostID
	c.state = transport.StateConnected

	go c.readLoop()
	return c, nil
}

func (c *Client) PlayerID() string { return c.playerID }

func (c *Client) PeerIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.peers))
	copy(out, c.peers)
	return out
}

func (c *Client) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostID == c.playerID
}

func (c *Client) Send(msg proto.Message, targetID string) error {
	raw, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return fmt.Errorf("send: connection closed")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame{To: targetID, Msg: json.RawMessage(raw)})
}

func (c *Client) OnMessage(handler transport.MessageHandler) transport.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.handlers.message)
	c.handlers.message = append(c.handlers.message, handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers.message[i] = func(proto.Message, string) {}
	}
}

func (c *Client) OnPeerJoin(handler func(peerID string)) transport.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.handlers.join)
	c.handlers.join = append(c.handlers.join, handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers.join[i] = func(string) {}
	}
}

func (c *Client) OnPeerLeave(handler func(peerID string)) transport.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.handlers.leave)
	c.handlers.leave = append(c.handlers.leave, handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers.leave[i] = func(string) {}
	}
}

func (c *Client) ConnectionState() transport.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) OnConnectionChange(handler func(transport.ConnectionState)) transport.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.handlers.change)
	c.handlers.change = append(c.handlers.change, handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers.change[i] = func(transport.ConnectionState) {}
	}
}

func (c *Client) OnError(handler func(error)) transport.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.handlers.errs)
	c.handlers.errs = append(c.handlers.errs, handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers.errs[i] = func(error) {}
	}
}

// Close tears the connection down and reports the disconnected state.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	c.setState(transport.StateDisconnected)
	return nil
}

func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.emitError(fmt.Errorf("relay read: %w", err))
				c.setState(transport.StateDisconnected)
			}
			return
		}
		switch f.Ctrl {
		case ctrlPeerJoin:
			c.addPeer(f.From)
		case ctrlPeerLeave:
			c.dropPeer(f.From)
		case "":
			msg, err := proto.Decode([]byte(f.Msg))
			if err != nil {
				c.emitError(fmt.Errorf("decode from %s: %w", f.From, err))
				continue
			}
			c.mu.Lock()
			handlers := make([]transport.MessageHandler, len(c.handlers.message))
			copy(handlers, c.handlers.message)
			c.mu.Unlock()
			for _, h := range handlers {
				h(msg, f.From)
			}
		}
	}
}

func (c *Client) addPeer(id string) {
	c.mu.Lock()
	for _, p := range c.peers {
		if p == id {
			c.mu.Unlock()
			return
		}
	}
	c.peers = append(c.peers, id)
	handlers := make([]func(string), len(c.handlers.join))
	copy(handlers, c.handlers.join)
	c.mu.Unlock()
	for _, h := range handlers {
		h(id)
	}
}

func (c *Client) dropPeer(id string) {
	c.mu.Lock()
	for i, p := range c.peers {
		if p == id {
			c.peers = append(c.peers[:i], c.peers[i+1:]...)
			break
		}
	}
	handlers := make([]func(string), len(c.handlers.leave))
	copy(handlers, c.handlers.leave)
	c.mu.Unlock()
	for _, h := range handlers {
		h(id)
	}
}

func (c *Client) setState(s transport.ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handlers := make([]func(transport.ConnectionState), len(c.handlers.change))
	copy(handlers, c.handlers.change)
	c.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	handlers := make([]func(error), len(c.handlers.errs))
	copy(handlers, c.handlers.errs)
	c.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}
