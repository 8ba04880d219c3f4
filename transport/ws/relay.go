// Package ws provides a websocket backend for the transport contract: a
// relay room server that fans envelopes out between peers, and the matching
// client transport.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// frame is the relay-level envelope wrapping protocol messages with routing
// and room-membership control.
type frame struct {
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Ctrl   string          `json:"ctrl,omitempty"`
	Peers  []string        `json:"peers,omitempty"`
	HostID string          `json:"hostId,omitempty"`
	Msg    json.RawMessage `json:"msg,omitempty"`
}

const (
	ctrlWelcome   = "welcome"
	ctrlPeerJoin  = "peer_join"
	ctrlPeerLeave = "peer_leave"
)

type relayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *relayConn) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

type room struct {
	mu     sync.Mutex
	conns  map[string]*relayConn
	order  []string
	hostID string
}

// Relay is an http.Handler hosting any number of rooms. It never inspects
// protocol payloads; it only routes them.
type Relay struct {
	mu       sync.Mutex
	rooms    map[string]*room
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewRelay(logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		rooms:  make(map[string]*room),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	roomID := req.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	peerID := req.URL.Query().Get("id")
	if peerID == "" {
		peerID = uuid.NewString()
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	rm := r.room(roomID)
	rc := &relayConn{conn: conn}
	peers, hostID, ok := rm.add(peerID, rc)
	if !ok {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "duplicate peer id"))
		conn.Close()
		return
	}

	rc.write(frame{Ctrl: ctrlWelcome, To: peerID, Peers: peers, HostID: hostID})
	rm.fanout(frame{Ctrl: ctrlPeerJoin, From: peerID}, peerID)

	r.readLoop(rm, peerID, rc)
}

func (r *Relay) room(id string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{conns: make(map[string]*relayConn)}
		r.rooms[id] = rm
	}
	return rm
}

func (r *Relay) readLoop(rm *room, peerID string, rc *relayConn) {
	defer func() {
		rm.remove(peerID)
		rm.fanout(frame{Ctrl: ctrlPeerLeave, From: peerID}, peerID)
		rc.conn.Close()
	}()
	for {
		var f frame
		if err := rc.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Printf("peer %s read error: %v", peerID, err)
			}
			return
		}
		f.From = peerID
		if f.To != "" {
			rm.unicast(f, f.To)
			continue
		}
		rm.fanout(f, peerID)
	}
}

func (rm *room) add(peerID string, rc *relayConn) (peers []string, hostID string, ok bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, exists := rm.conns[peerID]; exists {
		return nil, "", false
	}
	rm.conns[peerID] = rc
	rm.order = append(rm.order, peerID)
	if rm.hostID == "" {
		rm.hostID = peerID
	}
	for _, id := range rm.order {
		if id != peerID {
			peers = append(peers, id)
		}
	}
	return peers, rm.hostID, true
}

func (rm *room) remove(peerID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.conns, peerID)
	for i, id := range rm.order {
		if id == peerID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	// Host authority over the room is not reassigned here: survivors elect a
	// successor themselves and the relay keeps routing either way.
}

func (rm *room) fanout(f frame, except string) {
	rm.mu.Lock()
	targets := make([]*relayConn, 0, len(rm.conns))
	for id, rc := range rm.conns {
		if id == except {
			continue
		}
		targets = append(targets, rc)
	}
	rm.mu.Unlock()
	for _, rc := range targets {
		rc.write(f)
	}
}

func (rm *room) unicast(f frame, to string) {
	rm.mu.Lock()
	rc, ok := rm.conns[to]
	rm.mu.Unlock()
	if ok {
		rc.write(f)
	}
}
