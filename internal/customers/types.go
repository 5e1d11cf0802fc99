package customers

import "time"

// Customer represents the item stored in the customers table.
// Only its existence matters to order placement.
type Customer struct {
	CustomerID string    `dynamodbav:"customer_id" json:"customer_id"` // PK
	Name       string    `dynamodbav:"name" json:"name"`
	Email      string    `dynamodbav:"email,omitempty" json:"email,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
}
