package signaling

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/faris-sait/webrtc-vision/internal/metrics"
)

// Transport delivers server-to-client messages for one connected client.
// Implementations must be safe for calls from multiple goroutines; the relay
// additionally serializes deliveries per client, so a transport observes
// messages for its client in routing order.
//
// A Transport that also implements io.Closer is closed when the client is
// removed or replaced.
type Transport interface {
	Deliver(msg *Message) error
}

// Relay is the in-memory room registry. It tracks which clients are members
// of which rooms and routes signaling messages between them. A client joins
// with either a live Transport (WebSocket push) or none, in which case
// messages accumulate in a bounded queue until drained over HTTP.
type Relay struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	maxPending int

	mu      sync.Mutex
	rooms   map[string]*room
	clients map[string]*client
}

type room struct {
	id      string
	members map[string]*client
}

type client struct {
	id     string
	roomID string
	queue  *pendingQueue // non-nil only for polling clients

	// mu serializes deliveries and guards transport replacement on re-join.
	mu        sync.Mutex
	transport Transport
}

func NewRelay(logger *slog.Logger, m *metrics.Metrics, maxPending int) *Relay {
	return &Relay{
		log:        logger,
		metrics:    m,
		maxPending: maxPending,
		rooms:      make(map[string]*room),
		clients:    make(map[string]*client),
	}
}

// Join registers clientID as a member of roomID, creating the room on first
// use, and returns the room's member list including the new client. A nil
// transport registers a polling client whose messages are buffered until
// drained.
//
// Joining again with the same clientID replaces the transport handle and
// keeps any buffered messages. A client belongs to at most one room; joining
// a different room leaves the previous one first.
func (r *Relay) Join(roomID, clientID string, transport Transport) []string {
	r.mu.Lock()

	if existing, ok := r.clients[clientID]; ok && existing.roomID != roomID {
		r.mu.Unlock()
		r.Leave(existing.roomID, clientID)
		r.mu.Lock()
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, members: make(map[string]*client)}
		r.rooms[roomID] = rm
		r.metrics.Inc(metrics.RoomsCreated)
		r.log.Info("room created", "room_id", roomID)
	}

	c, rejoin := rm.members[clientID]
	if !rejoin {
		// Transport is set before the client becomes visible in the registry
		// so concurrent broadcasts never observe a half-registered client.
		c = &client{id: clientID, roomID: roomID, transport: transport}
		if transport == nil {
			c.queue = newPendingQueue(r.maxPending)
		}
		rm.members[clientID] = c
		r.clients[clientID] = c
	}

	others := make([]*client, 0, len(rm.members))
	for id, member := range rm.members {
		if id != clientID {
			others = append(others, member)
		}
	}
	users := memberIDs(rm)
	r.mu.Unlock()

	if rejoin {
		c.mu.Lock()
		old := c.transport
		c.transport = transport
		if transport == nil && c.queue == nil {
			c.queue = newPendingQueue(r.maxPending)
		}
		c.mu.Unlock()
		if old != nil && old != transport {
			closeTransport(old)
		}
	}

	r.log.Info("client joined", "room_id", roomID, "client_id", clientID, "rejoin", rejoin, "members", len(users))

	if !rejoin {
		joined := &Message{
			Type:      MessageTypeUserJoined,
			ClientID:  clientID,
			Timestamp: epochSeconds(time.Now()),
		}
		for _, member := range others {
			r.deliver(member, joined)
		}
	}

	return users
}

// Leave removes clientID from roomID, closes its transport, and notifies the
// remaining members. It is idempotent; leaving twice is a no-op.
func (r *Relay) Leave(roomID, clientID string) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	c, ok := rm.members[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(rm.members, clientID)
	delete(r.clients, clientID)
	remaining := make([]*client, 0, len(rm.members))
	for _, member := range rm.members {
		remaining = append(remaining, member)
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()
	if t != nil {
		closeTransport(t)
	}

	r.log.Info("client left", "room_id", roomID, "client_id", clientID)

	left := &Message{
		Type:      MessageTypeUserLeft,
		ClientID:  clientID,
		Timestamp: epochSeconds(time.Now()),
	}
	for _, member := range remaining {
		r.deliver(member, left)
	}
}

// Route forwards msg from senderID within roomID. A message with a TargetID
// goes only to that client, looked up across all rooms; anything else is
// broadcast to every room member except the sender. Unknown targets and
// unknown rooms are counted and otherwise ignored.
func (r *Relay) Route(roomID, senderID string, msg *Message) {
	if msg.TargetID != "" {
		r.mu.Lock()
		target, ok := r.clients[msg.TargetID]
		r.mu.Unlock()
		if !ok {
			r.metrics.Inc(metrics.RoutingMisses)
			r.log.Debug("target not connected", "room_id", roomID, "sender_id", senderID, "target_id", msg.TargetID)
			return
		}
		r.metrics.Inc(metrics.MessagesRouted)
		r.deliver(target, msg)
		return
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		r.metrics.Inc(metrics.RoutingMisses)
		return
	}
	recipients := make([]*client, 0, len(rm.members))
	for id, member := range rm.members {
		if id != senderID {
			recipients = append(recipients, member)
		}
	}
	r.mu.Unlock()

	r.metrics.Inc(metrics.MessagesRouted)
	for _, member := range recipients {
		r.deliver(member, msg)
	}
}

// SendTo delivers msg directly to clientID, bypassing room routing. It
// reports whether the client was known.
func (r *Relay) SendTo(clientID string, msg *Message) bool {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.deliver(c, msg)
	return true
}

// Members returns the sorted member list of roomID. A room that does not
// exist has no members.
func (r *Relay) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return []string{}
	}
	return memberIDs(rm)
}

// Drain removes and returns the buffered messages for a polling client in
// arrival order. It reports whether the client was known; push clients are
// known but always drain empty.
func (r *Relay) Drain(clientID string) ([]*Message, bool) {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return nil, true
	}
	return q.Drain(), true
}

// deliver hands msg to a single client, buffering for polling clients. A
// transport delivery failure removes the client from its room: a broken
// WebSocket cannot be written to again, and keeping the membership would
// blackhole future routes.
func (r *Relay) deliver(c *client, msg *Message) {
	c.mu.Lock()
	t := c.transport
	if t == nil {
		if c.queue != nil && c.queue.Push(msg) {
			r.metrics.Inc(metrics.DropReasonQueueFull)
			r.log.Warn("pending queue full, dropped oldest", "client_id", c.id, "room_id", c.roomID)
		}
		c.mu.Unlock()
		return
	}
	err := t.Deliver(msg)
	c.mu.Unlock()

	if err != nil {
		r.metrics.Inc(metrics.DeliveryFailures)
		r.log.Warn("delivery failed, removing client", "client_id", c.id, "room_id", c.roomID, "err", err)
		r.Leave(c.roomID, c.id)
	}
}

func memberIDs(rm *room) []string {
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func closeTransport(t Transport) {
	if closer, ok := t.(io.Closer); ok {
		_ = closer.Close()
	}
}
