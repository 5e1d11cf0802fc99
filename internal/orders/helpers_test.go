package orders

import (
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func transact(items ...types.TransactWriteItem) *dyn.TransactWriteItemsInput {
	return &dyn.TransactWriteItemsInput{TransactItems: items}
}
