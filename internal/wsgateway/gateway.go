// Package wsgateway is the WebSocket Gateway component: it
// authenticates long-lived bidirectional connections, places them into
// per-deployment rooms on subscribe, bridges LogHub entries and Orchestrator
// status transitions out to subscribers, and enforces connection/subscription
// limits and idle reaping.
package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coderunner/controlplane/internal/authn"
	"github.com/coderunner/controlplane/internal/domain"
	"github.com/coderunner/controlplane/internal/loghub"
	"github.com/coderunner/controlplane/internal/metricsfacade"
)

// Authenticator verifies the bearer token carried in the handshake.
// Satisfied by *authn.Verifier.
type Authenticator interface {
	Verify(token string) (authn.Identity, error)
}

// LogSource is the narrow slice of LogHub the gateway depends on to seed a
// new subscription and to join its room. Satisfied directly by
// *loghub.LogHub; the dependency order runs LogHub → Gateway.
type LogSource interface {
	Recent(deploymentID string, n int) []domain.LogEntry
	Query(deploymentID string, filter domain.LogFilter) []domain.LogEntry
	Subscribe(deploymentID, subscriptionID string, sub loghub.Subscriber) func()
}

// DeploymentOwners resolves which user owns a deployment, for the
// subscribe access-control check.
type DeploymentOwners interface {
	OwnerOf(deploymentID string) (userID string, err error)
}

// Config tunes connection and subscription limits.
type Config struct {
	MaxConnections    int
	MaxSubscriptions  int
	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default connection and subscription limits.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    1000,
		MaxSubscriptions:  10,
		ConnectionTimeout: 5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Gateway is the WebSocket Gateway component.
type Gateway struct {
	cfg    Config
	auth   Authenticator
	logs   LogSource
	owners DeploymentOwners
	now    func() time.Time

	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[*connection]struct{}
}

// New creates a Gateway.
func New(cfg Config, auth Authenticator, logs LogSource, owners DeploymentOwners) *Gateway {
	return &Gateway{
		cfg:    cfg,
		auth:   auth,
		logs:   logs,
		owners: owners,
		now:    time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connections: make(map[*connection]struct{}),
	}
}

func (g *Gateway) closeCtx() context.Context {
	return context.Background()
}

// connectionCount reports the current number of live connections, for the
// global limit check.
func (g *Gateway) connectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connections)
}

// ServeHTTP upgrades the request to a WebSocket connection after verifying
// the bearer token from the handshake.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerFromHeader(r.Header.Get("Authorization"))
	}
	identity, err := g.auth.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if g.connectionCount() >= g.cfg.MaxConnections {
		conn, upErr := g.upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			_ = conn.WriteJSON(errorFrame{Type: typeError, Code: codeConnectionLimit, Message: "connection limit exceeded"})
			_ = conn.Close()
		}
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.acceptConnection(conn, identity)
}

func bearerFromHeader(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (g *Gateway) acceptConnection(conn *websocket.Conn, identity authn.Identity) {
	c := newConnection(g, conn, identity)
	g.mu.Lock()
	g.connections[c] = struct{}{}
	g.mu.Unlock()
	metricsfacade.WSConnectionsActive.Inc()

	go c.writePump()
	go c.readPump()
}

func (g *Gateway) removeConnection(c *connection) {
	g.mu.Lock()
	_, ok := g.connections[c]
	delete(g.connections, c)
	g.mu.Unlock()
	if ok {
		metricsfacade.WSConnectionsActive.Dec()
		c.closeAll()
	}
}

// handleSubscribe enforces access control and the per-connection
// subscription cap before joining deploymentID's room.
func (g *Gateway) handleSubscribe(c *connection, msg subscribeMessage) {
	owner, err := g.owners.OwnerOf(msg.DeploymentID)
	if err != nil {
		c.enqueue(subscriptionErrorFrame{
			Type: typeSubscriptionError, DeploymentID: msg.DeploymentID,
			Code: codeDeploymentNotFound, Error: "deployment not found",
		})
		return
	}
	if owner != c.identity.UserID {
		c.enqueue(subscriptionErrorFrame{
			Type: typeSubscriptionError, DeploymentID: msg.DeploymentID,
			Code: codeAccessDenied, Error: "access denied",
		})
		return
	}
	if c.subscriptionCount() >= g.cfg.MaxSubscriptions {
		c.enqueue(subscriptionErrorFrame{
			Type: typeSubscriptionError, DeploymentID: msg.DeploymentID,
			Code: codeSubscriptionLimit, Error: "subscription limit exceeded",
		})
		return
	}

	sub := &roomSubscriber{conn: c, deploymentID: msg.DeploymentID}
	unsubscribe := g.logs.Subscribe(msg.DeploymentID, subscriptionKey(c, msg.DeploymentID), sub)
	c.addSubscription(msg.DeploymentID, unsubscribe)

	initial := g.logs.Query(msg.DeploymentID, msg.Options.filter())
	c.enqueue(subscriptionSuccessFrame{
		Type: typeSubscriptionSuccess, DeploymentID: msg.DeploymentID, InitialLogs: initial,
	})
}

func subscriptionKey(c *connection, deploymentID string) string {
	return deploymentID + ":" + c.id
}

// roomSubscriber adapts one (connection, deployment) pair to LogSource's
// Subscriber shape, forwarding entries as `log` frames.
type roomSubscriber struct {
	conn         *connection
	deploymentID string
}

func (s *roomSubscriber) PublishLog(entry domain.LogEntry) {
	raw, err := json.Marshal(logFrame{
		Type: typeLog, DeploymentID: s.deploymentID, Payload: entry, Timestamp: entry.Timestamp,
	})
	if err != nil {
		return
	}
	metricsfacade.WSMessagesSent.WithLabelValues(typeLog).Inc()
	s.conn.enqueueLog(s.deploymentID, raw)
}

// PublishStatus implements orchestrator.StatusNotifier, fanning a status
// transition out to every connection subscribed to deploymentID.
func (g *Gateway) PublishStatus(deploymentID string, status, previous domain.DeploymentStatus) {
	frame := statusFrame{
		Type: typeStatus, DeploymentID: deploymentID,
		Payload: statusPayload{Status: status, PreviousStatus: previous, Timestamp: g.now()},
	}
	g.mu.Lock()
	conns := make([]*connection, 0, len(g.connections))
	for c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if c.subscribedTo(deploymentID) {
			metricsfacade.WSMessagesSent.WithLabelValues(typeStatus).Inc()
			c.enqueue(frame)
		}
	}
}

// PublishBudgetAlert implements optimizer.BudgetAlertPublisher, fanning a
// budget:alert frame out to every connection subscribed to the alert's
// deployment.
func (g *Gateway) PublishBudgetAlert(alert domain.BudgetAlert) {
	frame := budgetAlertFrame{Type: typeBudgetAlert, DeploymentID: alert.DeploymentID, Payload: alert}
	g.mu.Lock()
	conns := make([]*connection, 0, len(g.connections))
	for c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if c.subscribedTo(alert.DeploymentID) {
			c.enqueue(frame)
		}
	}
}

// Sweep closes every connection idle beyond the configured timeout.
func (g *Gateway) Sweep() {
	g.mu.Lock()
	conns := make([]*connection, 0, len(g.connections))
	for c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if c.idleSince() > g.cfg.ConnectionTimeout {
			g.removeConnection(c)
		}
	}
}

// Run ticks Sweep on the configured heartbeat interval until stop fires.
func (g *Gateway) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
