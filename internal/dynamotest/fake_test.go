package dynamotest

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(v string) Item {
	return Item{"id": &types.AttributeValueMemberS{Value: v}}
}

func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func newStockFake() *Fake {
	f := New()
	f.CreateTable("stock", "id")
	f.Seed("stock", map[string]any{"id": "a", "qty": 5})
	f.Seed("stock", map[string]any{"id": "b", "qty": 1})
	return f
}

func decrement(id, by string) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String("stock"),
		Key:                       key(id),
		UpdateExpression:          aws.String("SET qty = qty - :k"),
		ConditionExpression:       aws.String("attribute_exists(id) AND qty >= :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":k": n(by)},
	}}
}

func TestTransactWriteItems_AllOrNothing(t *testing.T) {
	f := newStockFake()

	_, err := f.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{decrement("a", "2"), decrement("b", "2")},
	})

	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	require.Len(t, tce.CancellationReasons, 2)
	assert.Equal(t, "None", aws.ToString(tce.CancellationReasons[0].Code))
	assert.Equal(t, "ConditionalCheckFailed", aws.ToString(tce.CancellationReasons[1].Code))
	assert.Equal(t, "5", f.Get("stock", "a")["qty"].(*types.AttributeValueMemberN).Value)
}

func TestTransactWriteItems_Applies(t *testing.T) {
	f := newStockFake()

	_, err := f.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{decrement("a", "5"), decrement("b", "1")},
	})

	require.NoError(t, err)
	assert.Equal(t, "0", f.Get("stock", "a")["qty"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "0", f.Get("stock", "b")["qty"].(*types.AttributeValueMemberN).Value)
}

func TestTransactWriteItems_RejectsDuplicateTargets(t *testing.T) {
	f := newStockFake()

	_, err := f.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{decrement("a", "1"), decrement("a", "1")},
	})

	assert.True(t, IsValidation(err))
}

func TestPutItem_AttributeNotExists(t *testing.T) {
	f := newStockFake()
	put := &dyn.PutItemInput{
		TableName:           aws.String("stock"),
		Item:                Item{"id": &types.AttributeValueMemberS{Value: "a"}, "qty": n("9")},
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}

	_, err := f.PutItem(context.Background(), put)

	var ccf *types.ConditionalCheckFailedException
	assert.True(t, errors.As(err, &ccf))
}

func TestBatchGetItem_Unprocessed(t *testing.T) {
	f := newStockFake()
	f.UnprocessedRounds = 1

	out, err := f.BatchGetItem(context.Background(), &dyn.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{"stock": {Keys: []Item{key("a"), key("b"), key("zz")}}},
	})

	require.NoError(t, err)
	assert.Len(t, out.Responses["stock"], 2)
	assert.Len(t, out.UnprocessedKeys["stock"].Keys, 1)
}

func TestFault(t *testing.T) {
	f := newStockFake()
	boom := errors.New("boom")
	f.Fault = func(op string, tables []string) error {
		if op == "GetItem" {
			return boom
		}
		return nil
	}

	_, err := f.GetItem(context.Background(), &dyn.GetItemInput{TableName: aws.String("stock"), Key: key("a")})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.Calls("GetItem"))
}
