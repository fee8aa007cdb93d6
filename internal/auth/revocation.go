package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightcast/brightcast/internal/shared"
)

// RevocationList keeps token tombstones in Redis. A tombstone lives
// exactly as long as the token it kills, so the list stays small without
// a sweeper.
type RevocationList struct {
	client *redis.Client
}

// NewRevocationList constructs a RevocationList.
func NewRevocationList(client *redis.Client) *RevocationList {
	return &RevocationList{client: client}
}

// Revoke writes a tombstone for the token. Tokens already past their
// lifetime need no tombstone.
func (l *RevocationList) Revoke(ctx context.Context, tokenID string, remaining time.Duration) error {
	if tokenID == "" {
		return errors.New("auth: token id required")
	}
	if remaining <= 0 {
		return nil
	}
	if err := l.client.Set(ctx, shared.RevocationKey(tokenID), "1", remaining).Err(); err != nil {
		return fmt.Errorf("auth: revoke %s: %w", tokenID, err)
	}
	return nil
}

// IsRevoked reports whether a tombstone exists for the token. Errors
// other than a missing key are returned so callers deny the request
// instead of guessing.
func (l *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := l.client.Get(ctx, shared.RevocationKey(tokenID)).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("auth: revocation lookup %s: %w", tokenID, err)
}
