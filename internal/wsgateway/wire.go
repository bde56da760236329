package wsgateway

import (
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

// Frame type tags. The set is closed: these, plus typeLogDropped below, are
// the only frame types either side of the connection will ever send.
const (
	typeSubscribe           = "subscribe"
	typeUnsubscribe         = "unsubscribe"
	typePing                = "ping"
	typePong                = "pong"
	typeSubscriptionSuccess = "subscription:success"
	typeSubscriptionError   = "subscription:error"
	typeLog                 = "log"
	typeStatus              = "status"
	typeError               = "error"
	typeBudgetAlert         = "budget:alert"
)

// Access-control and limit error codes carried in subscription:error and
// error frames.
const (
	codeAccessDenied       = "ACCESS_DENIED"
	codeConnectionLimit    = "CONNECTION_LIMIT_EXCEEDED"
	codeSubscriptionLimit  = "SUBSCRIPTION_LIMIT_EXCEEDED"
	codeDeploymentNotFound = "DEPLOYMENT_NOT_FOUND"
	codeInvalidFrame       = "INVALID_FRAME"
)

// envelope is decoded first to read the discriminating type field before
// the rest of the payload is parsed against a specific shape.
type envelope struct {
	Type string `json:"type"`
}

type queryOptions struct {
	Tail      int                `json:"tail,omitempty"`
	Level     []domain.LogLevel  `json:"level,omitempty"`
	Source    []domain.LogSource `json:"source,omitempty"`
	StartTime time.Time          `json:"start_time,omitempty"`
	EndTime   time.Time          `json:"end_time,omitempty"`
	Search    string             `json:"search,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
}

func (o *queryOptions) filter() domain.LogFilter {
	if o == nil {
		return domain.LogFilter{Tail: defaultInitialLogs}
	}
	f := domain.LogFilter{
		Levels:    o.Level,
		Sources:   o.Source,
		StartTime: o.StartTime,
		EndTime:   o.EndTime,
		Search:    o.Search,
		Tags:      o.Tags,
		Tail:      o.Tail,
	}
	if f.Tail == 0 {
		f.Tail = defaultInitialLogs
	}
	return f
}

type subscribeMessage struct {
	Type         string        `json:"type"`
	DeploymentID string        `json:"deployment_id"`
	Options      *queryOptions `json:"options,omitempty"`
}

type unsubscribeMessage struct {
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriptionSuccessFrame struct {
	Type         string            `json:"type"`
	DeploymentID string            `json:"deployment_id"`
	InitialLogs  []domain.LogEntry `json:"initial_logs"`
}

type subscriptionErrorFrame struct {
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
	Code         string `json:"code"`
	Error        string `json:"error"`
}

type logFrame struct {
	Type         string          `json:"type"`
	DeploymentID string          `json:"deployment_id"`
	Payload      domain.LogEntry `json:"payload"`
	Timestamp    time.Time       `json:"timestamp"`
}

type statusPayload struct {
	Status         domain.DeploymentStatus `json:"status"`
	PreviousStatus domain.DeploymentStatus `json:"previous_status"`
	Timestamp      time.Time               `json:"timestamp"`
}

type statusFrame struct {
	Type         string        `json:"type"`
	DeploymentID string        `json:"deployment_id"`
	Payload      statusPayload `json:"payload"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// budgetAlertFrame fans a Resource Optimizer budget-threshold crossing out
// to every subscriber of the deployment's room.
type budgetAlertFrame struct {
	Type         string             `json:"type"`
	DeploymentID string             `json:"deployment_id"`
	Payload      domain.BudgetAlert `json:"payload"`
}

// droppedMarker fills the `log` slot a saturated send queue had to drop.
// It carries no entry, only the sentinel type and the deployment id.
type droppedMarker struct {
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
}

const typeLogDropped = "log:dropped"
