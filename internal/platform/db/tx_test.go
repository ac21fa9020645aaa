package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

// stubTx satisfies pgx.Tx for tests that only need a sentinel value in
// context. Calling any of its methods panics.
type stubTx struct {
	pgx.Tx
}

func TestWithTx_ReusesOpenTransaction(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, pgx.Tx(stubTx{}))

	called := false
	err := WithTx(ctx, nil, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) == nil {
			t.Error("expected the outer transaction to be visible inside fn")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestWithTx_ReusePropagatesError(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, pgx.Tx(stubTx{}))

	sentinel := errors.New("boom")
	err := WithTx(ctx, nil, func(context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected fn error to propagate, got %v", err)
	}
}
