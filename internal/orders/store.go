package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
)

// ErrOrderExists is returned when an order id is already taken.
var ErrOrderExists = errors.New("order already exists")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func (s *Store) putItem(order Order) (types.TransactWriteItem, error) {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.nowFunc().UTC()
	}
	if order.Status == "" {
		order.Status = StatusPlaced
	}
	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order item: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	}, nil
}

// Create writes a single order item. The header and its lines are one item,
// so the write is atomic on its own.
func (s *Store) Create(ctx context.Context, order Order) error {
	item, err := s.putItem(order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           item.Put.TableName,
		Item:                item.Put.Item,
		ConditionExpression: item.Put.ConditionExpression,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrOrderExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// CreateWith atomically writes the order together with extra transact items
// (stock decrements, guards). The order Put is always item 0, so callers map
// cancellation reasons of their own items starting at index 1.
//
// A failed order condition returns ErrOrderExists; any other cancellation is
// returned wrapped so the caller can inspect *types.TransactionCanceledException.
func (s *Store) CreateWith(ctx context.Context, order Order, extra []types.TransactWriteItem) error {
	item, err := s.putItem(order)
	if err != nil {
		return err
	}
	transactItems := append([]types.TransactWriteItem{item}, extra...)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		// detect transaction canceled / conditional failure
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			if len(tce.CancellationReasons) > 0 && awsValue(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
				return ErrOrderExists
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// AbsentCheck builds a transact condition that holds only while the order does not exist.
func (s *Store) AbsentCheck(orderID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:           &s.tableName,
			Key:                 orderKey(orderID),
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	}
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByCustomer returns up to limit orders of a customer, newest first.
func (s *Store) ListByCustomer(ctx context.Context, customerID string, limit int32) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(CustomerIndex),
		KeyConditionExpression: awsString("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: customerID},
		},
		ScanIndexForward: awsBool(false),
	}
	if limit > 0 {
		input.Limit = &limit
	}
	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query orders by customer: %w", err)
	}
	list := make([]Order, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &list); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	return list, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
