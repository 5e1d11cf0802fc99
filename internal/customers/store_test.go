package customers

import (
	"context"
	"testing"

	"github.com/imrishuroy/go-consistent-orders/internal/dynamotest"
)

func TestCreateAndGet(t *testing.T) {
	fake := dynamotest.New()
	fake.CreateTable("customers", "customer_id")
	s := NewStore(fake, "customers")

	c, err := s.Create(context.Background(), "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.CustomerID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := s.Get(context.Background(), c.CustomerID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Fatalf("unexpected customer: %+v", got)
	}
}

func TestGet_NotFoundReturnsNil(t *testing.T) {
	fake := dynamotest.New()
	fake.CreateTable("customers", "customer_id")
	s := NewStore(fake, "customers")

	got, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestCreate_IDCollision(t *testing.T) {
	fake := dynamotest.New()
	fake.CreateTable("customers", "customer_id")
	s := NewStore(fake, "customers")
	s.newID = func() string { return "fixed" }

	if _, err := s.Create(context.Background(), "A", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.Create(context.Background(), "B", ""); err != ErrCustomerExists {
		t.Fatalf("expected ErrCustomerExists, got %v", err)
	}
}
