// Package dynamotest provides an in-memory DynamoDB used by store, engine and
// handler tests. It implements aws.DynamoDBAPI and evaluates the expression
// subset the stores emit:
//
//	conditions: attribute_exists(a), attribute_not_exists(a), a <op> :v joined by AND
//	updates:    SET a = :v, b = b + :v, c = c - :v
//
// Transactions check every condition before applying any write and fail with
// *types.TransactionCanceledException carrying one CancellationReason per item.
// Every call is serialized, which makes the fake a linearizable store.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// FaultFunc is consulted before every operation; a non-nil error is returned
// to the caller and the operation is not applied.
type FaultFunc func(op string, tables []string) error

type index struct {
	pk string
	sk string
}

type table struct {
	pk      string
	items   map[string]Item
	indexes map[string]index
}

// Fake is an in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int

	// Fault, when set, can fail any operation.
	Fault FaultFunc
	// UnprocessedRounds makes the next N BatchGetItem calls return their last
	// requested key as unprocessed.
	UnprocessedRounds int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by a single string partition key.
func (f *Fake) CreateTable(name, pk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{pk: pk, items: map[string]Item{}, indexes: map[string]index{}}
}

// AddIndex registers a global secondary index for Query.
func (f *Fake) AddIndex(tableName, indexName, pk, sk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[tableName].indexes[indexName] = index{pk: pk, sk: sk}
}

// Seed marshals v with attributevalue and stores it unconditionally.
func (f *Fake) Seed(tableName string, v any) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		panic(fmt.Sprintf("dynamotest: marshal seed: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(tableName)
	k, err := t.keyOf(item)
	if err != nil {
		panic(err)
	}
	t.items[k] = copyItem(item)
}

// Get returns a copy of the stored item or nil.
func (f *Fake) Get(tableName, key string) Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.mustTable(tableName).items[key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Load unmarshals the stored item into out; it reports whether the item exists.
func (f *Fake) Load(tableName, key string, out any) bool {
	item := f.Get(tableName, key)
	if item == nil {
		return false
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		panic(fmt.Sprintf("dynamotest: unmarshal: %v", err))
	}
	return true
}

// Count returns the number of items in a table.
func (f *Fake) Count(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mustTable(tableName).items)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) mustTable(name string) *table {
	t, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamotest: unknown table %q", name))
	}
	return t
}

func (f *Fake) begin(op string, tables ...string) error {
	f.mu.Lock()
	f.calls[op]++
	fault := f.Fault
	f.mu.Unlock()
	if fault != nil {
		if err := fault(op, tables); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) table(name *string) (*table, error) {
	if name == nil {
		return nil, validation("missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + *name)}
	}
	return t, nil
}

func (t *table) keyOf(item Item) (string, error) {
	v, ok := item[t.pk]
	if !ok {
		return "", validation("missing key attribute " + t.pk)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", validation("key attribute must be a string")
	}
	return s.Value, nil
}

func (f *Fake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	if err := f.begin("PutItem", aws.ToString(params.TableName)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	if err := f.begin("GetItem", aws.ToString(params.TableName)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	if err := f.begin("UpdateItem", aws.ToString(params.TableName)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	next, err := applyUpdate(aws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, current, params.Key)
	if err != nil {
		return nil, err
	}
	t.items[k] = next
	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew || params.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = copyItem(next)
	}
	return out, nil
}

func (f *Fake) BatchGetItem(ctx context.Context, params *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	names := make([]string, 0, len(params.RequestItems))
	for name := range params.RequestItems {
		names = append(names, name)
	}
	if err := f.begin("BatchGetItem", names...); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, ka := range params.RequestItems {
		total += len(ka.Keys)
	}
	if total > 100 {
		return nil, validation("too many items requested for the BatchGetItem call")
	}
	deferOne := f.UnprocessedRounds > 0
	if deferOne {
		f.UnprocessedRounds--
	}
	out := &dyn.BatchGetItemOutput{
		Responses:       map[string][]Item{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	for _, name := range names {
		t, err := f.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		keys := params.RequestItems[name].Keys
		if deferOne && len(keys) > 0 {
			last := keys[len(keys)-1]
			keys = keys[:len(keys)-1]
			out.UnprocessedKeys[name] = types.KeysAndAttributes{
				Keys:           []Item{last},
				ConsistentRead: params.RequestItems[name].ConsistentRead,
			}
			deferOne = false
		}
		for _, key := range keys {
			k, err := t.keyOf(key)
			if err != nil {
				return nil, err
			}
			if item, ok := t.items[k]; ok {
				out.Responses[name] = append(out.Responses[name], copyItem(item))
			}
		}
	}
	return out, nil
}

// Query supports equality on an index partition key, ordered by the index sort key.
func (f *Fake) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	if err := f.begin("Query", aws.ToString(params.TableName)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(params.TableName)
	if err != nil {
		return nil, err
	}
	idx := index{pk: t.pk}
	if params.IndexName != nil {
		var ok bool
		if idx, ok = t.indexes[*params.IndexName]; !ok {
			return nil, validation("unknown index " + *params.IndexName)
		}
	}
	clause := aws.ToString(params.KeyConditionExpression)
	parts := strings.SplitN(clause, "=", 2)
	if len(parts) != 2 {
		return nil, validation("unsupported key condition " + clause)
	}
	attr := resolveName(strings.TrimSpace(parts[0]), params.ExpressionAttributeNames)
	if attr != idx.pk {
		return nil, validation("key condition must target " + idx.pk)
	}
	want, ok := params.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	if !ok {
		return nil, validation("missing value for key condition")
	}
	var matches []Item
	for _, item := range t.items {
		if cmp, ok := compare(item[attr], want); ok && cmp == 0 {
			matches = append(matches, copyItem(item))
		}
	}
	if idx.sk != "" {
		sort.SliceStable(matches, func(i, j int) bool {
			c, _ := compare(matches[i][idx.sk], matches[j][idx.sk])
			return c < 0
		})
		if params.ScanIndexForward != nil && !*params.ScanIndexForward {
			for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(matches) {
		matches = matches[:*params.Limit]
	}
	return &dyn.QueryOutput{Items: matches, Count: int32(len(matches))}, nil
}

type pendingWrite struct {
	t     *table
	key   string
	item  Item
	check bool
}

func (f *Fake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	var names []string
	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			names = append(names, aws.ToString(it.Put.TableName))
		case it.Update != nil:
			names = append(names, aws.ToString(it.Update.TableName))
		case it.ConditionCheck != nil:
			names = append(names, aws.ToString(it.ConditionCheck.TableName))
		case it.Delete != nil:
			names = append(names, aws.ToString(it.Delete.TableName))
		}
	}
	if err := f.begin("TransactWriteItems", names...); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(params.TransactItems) == 0 || len(params.TransactItems) > 100 {
		return nil, validation("transaction must contain between 1 and 100 items")
	}

	writes := make([]pendingWrite, 0, len(params.TransactItems))
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	seen := map[string]bool{}
	failed := false

	for i, it := range params.TransactItems {
		var (
			tableName *string
			key       Item
			cond      *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case it.Put != nil:
			tableName, key, cond, names, values = it.Put.TableName, it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues
		case it.Update != nil:
			tableName, key, cond, names, values = it.Update.TableName, it.Update.Key, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues
		case it.ConditionCheck != nil:
			tableName, key, cond, names, values = it.ConditionCheck.TableName, it.ConditionCheck.Key, it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues
		case it.Delete != nil:
			tableName, key, cond, names, values = it.Delete.TableName, it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues
		default:
			return nil, validation("empty transact item")
		}
		t, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		k, err := t.keyOf(key)
		if err != nil {
			return nil, err
		}
		id := *tableName + "/" + k
		if seen[id] {
			return nil, validation("transaction request cannot include multiple operations on one item")
		}
		seen[id] = true

		current := t.items[k]
		ok, err := evalCondition(cond, names, values, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Message: aws.String("The conditional request failed")}
			continue
		}
		reasons[i] = types.CancellationReason{Code: aws.String("None")}

		switch {
		case it.Put != nil:
			writes = append(writes, pendingWrite{t: t, key: k, item: copyItem(it.Put.Item)})
		case it.Update != nil:
			next, err := applyUpdate(aws.ToString(it.Update.UpdateExpression), names, values, current, it.Update.Key)
			if err != nil {
				return nil, err
			}
			writes = append(writes, pendingWrite{t: t, key: k, item: next})
		case it.Delete != nil:
			writes = append(writes, pendingWrite{t: t, key: k})
		default:
			writes = append(writes, pendingWrite{check: true})
		}
	}

	if failed {
		codes := make([]string, len(reasons))
		for i, r := range reasons {
			codes[i] = aws.ToString(r.Code)
		}
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons [" + strings.Join(codes, ", ") + "]"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range writes {
		switch {
		case w.check:
		case w.item == nil:
			delete(w.t.items, w.key)
		default:
			w.t.items[w.key] = w.item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

type validationError struct{ msg string }

func (e *validationError) Error() string     { return "ValidationException: " + e.msg }
func (e *validationError) ErrorCode() string { return "ValidationException" }
func (e *validationError) ErrorMessage() string {
	return e.msg
}

func validation(msg string) error { return &validationError{msg: msg} }

// IsValidation reports whether err is a request the fake rejected as malformed.
func IsValidation(err error) bool {
	var v *validationError
	return errors.As(err, &v)
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item Item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), names, values, item)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item Item) (bool, error) {
	for _, fn := range []string{"attribute_not_exists", "attribute_exists"} {
		if strings.HasPrefix(clause, fn+"(") && strings.HasSuffix(clause, ")") {
			attr := resolveName(strings.TrimSpace(clause[len(fn)+1:len(clause)-1]), names)
			_, exists := item[attr]
			if fn == "attribute_exists" {
				return exists, nil
			}
			return !exists, nil
		}
	}
	for _, op := range []string{">=", "<=", "<>", "=", ">", "<"} {
		i := strings.Index(clause, " "+op+" ")
		if i < 0 {
			continue
		}
		left := operand(strings.TrimSpace(clause[:i]), names, values, item)
		right := operand(strings.TrimSpace(clause[i+len(op)+2:]), names, values, item)
		if left == nil || right == nil {
			return false, nil
		}
		c, ok := compare(left, right)
		if !ok {
			return false, nil
		}
		switch op {
		case "=":
			return c == 0, nil
		case "<>":
			return c != 0, nil
		case ">=":
			return c >= 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		case "<":
			return c < 0, nil
		}
	}
	return false, validation("unsupported condition clause: " + clause)
}

func operand(token string, names map[string]string, values map[string]types.AttributeValue, item Item) types.AttributeValue {
	if strings.HasPrefix(token, ":") {
		return values[token]
	}
	return item[resolveName(token, names)]
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := decimal.NewFromString(av.Value)
		y, err2 := decimal.NewFromString(bv.Value)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, current, key Item) (Item, error) {
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return nil, validation("unsupported update expression: " + expr)
	}
	for _, assign := range strings.Split(expr[len("SET "):], ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return nil, validation("bad assignment: " + assign)
		}
		target := resolveName(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])
		var op string
		var i int
		if i = strings.Index(rhs, " + "); i >= 0 {
			op = "+"
		} else if i = strings.Index(rhs, " - "); i >= 0 {
			op = "-"
		}
		if op == "" {
			v := operand(rhs, names, values, next)
			if v == nil {
				return nil, validation("missing value for " + rhs)
			}
			next[target] = v
			continue
		}
		left, lok := operand(strings.TrimSpace(rhs[:i]), names, values, next).(*types.AttributeValueMemberN)
		right, rok := operand(strings.TrimSpace(rhs[i+3:]), names, values, next).(*types.AttributeValueMemberN)
		if !lok || !rok {
			return nil, validation("an operand in the update expression has an incorrect data type")
		}
		x, _ := decimal.NewFromString(left.Value)
		y, _ := decimal.NewFromString(right.Value)
		if op == "+" {
			x = x.Add(y)
		} else {
			x = x.Sub(y)
		}
		next[target] = &types.AttributeValueMemberN{Value: x.String()}
	}
	return next, nil
}
