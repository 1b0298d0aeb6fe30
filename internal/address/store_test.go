package address_test

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/checkout-core/internal/address"
)

func newStore(t *testing.T) *address.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &address.Store{R: client}
}

func TestSelectedNoneChosen(t *testing.T) {
	store := newStore(t)
	_, err := store.Selected(context.Background(), "u-1")
	if !errors.Is(err, address.ErrNoneSelected) {
		t.Fatalf("err = %v, want ErrNoneSelected", err)
	}
}

func TestSelectRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	want := address.Address{
		ReceiverName: "An Nguyen",
		Phone:        "0900000000",
		Province:     "HCMC",
		District:     "District 1",
		Ward:         "Ben Nghe",
		Line1:        "1 Le Loi",
	}
	if err := store.Select(ctx, "u-1", want); err != nil {
		t.Fatalf("Select: %v", err)
	}
	got, err := store.Selected(ctx, "u-1")
	if err != nil {
		t.Fatalf("Selected: %v", err)
	}
	if *got != want {
		t.Fatalf("address = %+v, want %+v", *got, want)
	}
}

func TestSelectRequiresReceiver(t *testing.T) {
	store := newStore(t)
	err := store.Select(context.Background(), "u-1", address.Address{Line1: "1 Le Loi"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
