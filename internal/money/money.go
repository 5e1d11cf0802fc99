// Package money holds the decimal amount type used for prices and order totals.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Amount is a non-float monetary value. It marshals to JSON like decimal.Decimal
// and to DynamoDB as a number attribute.
type Amount struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{decimal.Zero}

// New wraps a decimal.
func New(d decimal.Decimal) Amount { return Amount{d} }

// FromCents builds an amount from an integer number of cents.
func FromCents(cents int64) Amount { return Amount{decimal.New(cents, -2)} }

// MustParse parses s or panics; intended for constants and tests.
func MustParse(s string) Amount { return Amount{decimal.RequireFromString(s)} }

// Parse parses a decimal string such as "12.50".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

// Times multiplies the amount by an integer quantity.
func (a Amount) Times(q int) Amount { return Amount{a.Mul(decimal.NewFromInt(int64(q)))} }

// Plus adds two amounts.
func (a Amount) Plus(b Amount) Amount { return Amount{a.Add(b.Decimal)} }

// Equals compares by value, so 10 and 10.00 are equal.
func (a Amount) Equals(b Amount) bool { return a.Equal(b.Decimal) }

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.String()}, nil
}

// UnmarshalDynamoDBAttributeValue implements attributevalue.Unmarshaler.
func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		a.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for amount", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", raw, err)
	}
	a.Decimal = d
	return nil
}
