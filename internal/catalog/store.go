package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-consistent-orders/internal/aws"
	"github.com/imrishuroy/go-consistent-orders/internal/money"
)

const (
	maxBatchGet     = 100
	maxBatchRetries = 5
	baseBackoff     = 50 * time.Millisecond
)

// Store encapsulates operations on the products and product_names tables.
type Store struct {
	client        aws.DynamoDBAPI
	productsTable string
	namesTable    string
	nowFunc       func() time.Time
	newID         func() string
	backoff       time.Duration
}

// NewStore creates a catalog Store.
func NewStore(client aws.DynamoDBAPI, productsTable, namesTable string) *Store {
	return &Store{
		client:        client,
		productsTable: productsTable,
		namesTable:    namesTable,
		nowFunc:       time.Now,
		newID:         uuid.NewString,
		backoff:       baseBackoff,
	}
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: id},
	}
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.productsTable,
		Key:            productKey(productID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// FindAllByID reads every known product among ids with strongly consistent
// batch reads. Unknown ids are omitted, duplicates are read once, and the
// result order is unspecified.
func (s *Store) FindAllByID(ctx context.Context, ids []string) ([]Product, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	products := make([]Product, 0, len(unique))
	for start := 0; start < len(unique); start += maxBatchGet {
		end := min(start+maxBatchGet, len(unique))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range unique[start:end] {
			keys = append(keys, productKey(id))
		}
		request := map[string]types.KeysAndAttributes{
			s.productsTable: {Keys: keys, ConsistentRead: awsBool(true)},
		}

		for attempt := 0; len(request) > 0; attempt++ {
			if attempt > 0 {
				if attempt > maxBatchRetries {
					return nil, fmt.Errorf("batch get products: unprocessed keys after %d retries", maxBatchRetries)
				}
				if err := s.wait(ctx, attempt-1); err != nil {
					return nil, err
				}
			}
			out, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get products: %w", err)
			}
			for _, item := range out.Responses[s.productsTable] {
				var p Product
				if err := attributevalue.UnmarshalMap(item, &p); err != nil {
					return nil, fmt.Errorf("unmarshal product: %w", err)
				}
				products = append(products, p)
			}
			request = out.UnprocessedKeys
		}
	}
	return products, nil
}

// wait sleeps for an exponential backoff with jitter, or until ctx is done.
func (s *Store) wait(ctx context.Context, attempt int) error {
	exp := s.backoff * time.Duration(1<<attempt)
	jitter := time.Duration(0)
	if exp > 1 {
		jitter = time.Duration(rand.Int63n(int64(exp / 2)))
	}
	t := time.NewTimer(exp + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FindByName resolves a product through its name guard. Returns (nil, nil) if not found.
func (s *Store) FindByName(ctx context.Context, name string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.namesTable,
		Key: map[string]types.AttributeValue{
			"product_name": &types.AttributeValueMemberS{Value: name},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get name guard: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var g nameGuard
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal name guard: %w", err)
	}
	return s.Get(ctx, g.ProductID)
}

// Create inserts a product together with its name guard in one transaction.
// The guard's attribute_not_exists condition is what keeps names unique under
// concurrent registrations; a lost race returns ErrNameTaken.
func (s *Store) Create(ctx context.Context, p Product) (*Product, error) {
	now := s.nowFunc().UTC()
	if p.ProductID == "" {
		p.ProductID = s.newID()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	guardMap, err := attributevalue.MarshalMap(nameGuard{ProductName: p.Name, ProductID: p.ProductID, CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("marshal name guard: %w", err)
	}
	productMap, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.namesTable,
					Item:                guardMap,
					ConditionExpression: awsString("attribute_not_exists(product_name)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.productsTable,
					Item:                productMap,
					ConditionExpression: awsString("attribute_not_exists(product_id)"),
				},
			},
		},
	})
	if err != nil {
		if failedAt(err, 0) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("transact write product: %w", err)
	}
	return &p, nil
}

// DecrementItems builds one conditional update per reservation:
// "take K units only if at least K are on hand". Callers pass reservations
// that satisfy CheckReservations.
func (s *Store) DecrementItems(res []Reservation) []types.TransactWriteItem {
	ua := s.nowFunc().UTC().Format(time.RFC3339Nano)
	items := make([]types.TransactWriteItem, 0, len(res))
	for _, r := range res {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           &s.productsTable,
				Key:                 productKey(r.ProductID),
				UpdateExpression:    awsString("SET quantity = quantity - :k, updated_at = :ua"),
				ConditionExpression: awsString("attribute_exists(product_id) AND quantity >= :k"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":k":  &types.AttributeValueMemberN{Value: strconv.Itoa(r.Quantity)},
					":ua": &types.AttributeValueMemberS{Value: ua},
				},
			},
		})
	}
	return items
}

// IncrementItems builds the compensating updates that give reserved units back.
func (s *Store) IncrementItems(res []Reservation) []types.TransactWriteItem {
	ua := s.nowFunc().UTC().Format(time.RFC3339Nano)
	items := make([]types.TransactWriteItem, 0, len(res))
	for _, r := range res {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           &s.productsTable,
				Key:                 productKey(r.ProductID),
				UpdateExpression:    awsString("SET quantity = quantity + :k, updated_at = :ua"),
				ConditionExpression: awsString("attribute_exists(product_id)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":k":  &types.AttributeValueMemberN{Value: strconv.Itoa(r.Quantity)},
					":ua": &types.AttributeValueMemberS{Value: ua},
				},
			},
		})
	}
	return items
}

// UpdateQuantity applies every conditional decrement in one transaction:
// either all products are reserved or none are. A rejected condition is
// reported as *InsufficientStockError for the first failing product.
func (s *Store) UpdateQuantity(ctx context.Context, res []Reservation) error {
	if len(res) == 0 {
		return nil
	}
	if err := CheckReservations(res); err != nil {
		return err
	}
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: s.DecrementItems(res),
	})
	if err != nil {
		if se, ok := InsufficientStockFromCancel(err, res, 0); ok {
			return se
		}
		return fmt.Errorf("transact decrement: %w", err)
	}
	return nil
}

// InsufficientStockFromCancel maps a cancelled transaction back to the first
// reservation whose conditional decrement failed. offset is the index of the
// first decrement item within the transaction.
func InsufficientStockFromCancel(err error, res []Reservation, offset int) (*InsufficientStockError, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	for i, reason := range tce.CancellationReasons {
		j := i - offset
		if j < 0 || j >= len(res) {
			continue
		}
		if awsValue(reason.Code) == "ConditionalCheckFailed" {
			return &InsufficientStockError{ProductID: res[j].ProductID, Requested: res[j].Quantity}, true
		}
	}
	return nil, false
}

// failedAt reports whether err is a cancelled transaction whose item i failed its condition.
func failedAt(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return false
	}
	return awsValue(tce.CancellationReasons[i].Code) == "ConditionalCheckFailed"
}

// NewProduct is a convenience constructor used by registration and seeding.
func NewProduct(name string, price money.Amount, quantity int) Product {
	return Product{Name: name, Price: price, Quantity: quantity}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
