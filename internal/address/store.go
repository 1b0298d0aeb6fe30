package address

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// ErrNoneSelected indicates the shopper has not picked a shipping address.
var ErrNoneSelected = errors.New("no shipping address selected")

// Address is the shipping destination snapshot used for order submission.
type Address struct {
	ReceiverName string `json:"receiverName"`
	Phone        string `json:"phone"`
	Province     string `json:"province"`
	District     string `json:"district"`
	Ward         string `json:"ward"`
	Line1        string `json:"addressLine1"`
	Line2        string `json:"addressLine2,omitempty"`
}

// Store keeps the currently selected shipping address per shopper. The
// address book itself lives with the platform API; checkout only needs the
// selection.
type Store struct {
	R *redis.Client
}

func selectedKey(userID string) string {
	return "address:selected:" + userID
}

// Selected returns the shopper's currently selected shipping address.
func (s *Store) Selected(ctx context.Context, userID string) (*Address, error) {
	if s == nil || s.R == nil {
		return nil, errors.New("address store not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNoneSelected
	}
	raw, err := s.R.Get(ctx, selectedKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoneSelected
	}
	if err != nil {
		return nil, fmt.Errorf("load selected address: %w", err)
	}
	var addr Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, fmt.Errorf("decode selected address: %w", err)
	}
	return &addr, nil
}

// Select stores the shopper's address choice.
func (s *Store) Select(ctx context.Context, userID string, addr Address) error {
	if s == nil || s.R == nil {
		return errors.New("address store not configured")
	}
	if strings.TrimSpace(addr.ReceiverName) == "" || strings.TrimSpace(addr.Line1) == "" {
		return errors.New("receiver name and address line are required")
	}
	raw, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	return s.R.Set(ctx, selectedKey(userID), raw, 0).Err()
}
