package idempotency

import "time"

// A key moves IN_PROGRESS -> DONE, or IN_PROGRESS -> FAILED -> IN_PROGRESS on retry.
// Release claims are written directly as DONE.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is one row of the idempotency table: an HTTP key or a stock release claim.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	RequestHash    string    `dynamodbav:"request_hash,omitempty"` // sha256 of the request body, empty for claims
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at,omitempty"` // TTL epoch seconds, unset for claims
	Note           string    `dynamodbav:"note,omitempty"`
}
