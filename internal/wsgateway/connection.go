package wsgateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/coderunner/controlplane/internal/authn"
	"github.com/coderunner/controlplane/internal/metricsfacade"
)

const (
	defaultInitialLogs = 50
	sendQueueSize      = 64
	writeWait          = 10 * time.Second
)

// connection is one authenticated, long-lived bidirectional socket.
// Reads happen on one goroutine, writes on another; outbound frames funnel
// through a single bounded channel so gorilla/websocket's single-writer
// requirement is never violated.
type connection struct {
	id       string
	gateway  *Gateway
	conn     *websocket.Conn
	identity authn.Identity

	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	mu            sync.Mutex
	subscriptions map[string]func() // deployment_id -> loghub unsubscribe
	lastActivity  time.Time
	closed        bool
}

func newConnection(g *Gateway, conn *websocket.Conn, identity authn.Identity) *connection {
	return &connection{
		id:            uuid.NewString(),
		gateway:       g,
		conn:          conn,
		identity:      identity,
		send:          make(chan []byte, sendQueueSize),
		done:          make(chan struct{}),
		limiter:       rate.NewLimiter(rate.Limit(50), 100),
		subscriptions: make(map[string]func()),
		lastActivity:  g.now(),
	}
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastActivity = c.gateway.now()
	c.mu.Unlock()
}

func (c *connection) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gateway.now().Sub(c.lastActivity)
}

// enqueue is the non-blocking room fan-out path: a saturated queue drops the
// frame. `log` frames go through enqueueLog instead, which substitutes a
// single `log:dropped` sentinel.
func (c *connection) enqueue(frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

// enqueueLog applies the saturated-queue sentinel rule: if the queue is
// full, send log:dropped instead of blocking or discarding silently.
func (c *connection) enqueueLog(deploymentID string, raw []byte) {
	select {
	case c.send <- raw:
		return
	default:
	}
	metricsfacade.WSMessagesDropped.Inc()
	dropped, err := json.Marshal(droppedMarker{Type: typeLogDropped, DeploymentID: deploymentID})
	if err != nil {
		return
	}
	select {
	case c.send <- dropped:
	default:
	}
}

// writePump drains send and writes frames to the socket, pacing through the
// rate limiter so one slow client cannot starve the room's goroutine.
func (c *connection) writePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.send:
			_ = c.limiter.Wait(c.gateway.closeCtx())
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

// readPump decodes client frames until the socket closes or errors.
func (c *connection) readPump() {
	defer c.gateway.removeConnection(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.enqueue(errorFrame{Type: typeError, Code: codeInvalidFrame, Message: "malformed frame"})
			continue
		}
		switch env.Type {
		case typeSubscribe:
			var msg subscribeMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.enqueue(errorFrame{Type: typeError, Code: codeInvalidFrame, Message: "malformed subscribe"})
				continue
			}
			c.gateway.handleSubscribe(c, msg)
		case typeUnsubscribe:
			var msg unsubscribeMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.enqueue(errorFrame{Type: typeError, Code: codeInvalidFrame, Message: "malformed unsubscribe"})
				continue
			}
			c.handleUnsubscribe(msg.DeploymentID)
		case typePing:
			c.enqueue(pongFrame{Type: typePong, Timestamp: c.gateway.now()})
		default:
			c.enqueue(errorFrame{Type: typeError, Code: codeInvalidFrame, Message: "unknown frame type"})
		}
	}
}

func (c *connection) handleUnsubscribe(deploymentID string) {
	c.mu.Lock()
	unsubscribe, ok := c.subscriptions[deploymentID]
	delete(c.subscriptions, deploymentID)
	c.mu.Unlock()
	if ok {
		unsubscribe()
	}
}

// subscriptionCount reports how many rooms this connection currently
// belongs to, for enforcing the per-connection cap.
func (c *connection) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

func (c *connection) subscribedTo(deploymentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[deploymentID]
	return ok
}

func (c *connection) addSubscription(deploymentID string, unsubscribe func()) {
	c.mu.Lock()
	c.subscriptions[deploymentID] = unsubscribe
	c.mu.Unlock()
}

func (c *connection) closeAll() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]func())
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return
	}
	for _, unsubscribe := range subs {
		unsubscribe()
	}
	// The send channel is never closed: room fan-out may still be enqueueing
	// concurrently. writePump exits via done instead.
	close(c.done)
}
