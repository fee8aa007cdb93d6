package shared

// Redis key builders. Kept in one place so the API, worker and tests
// agree on the layout.

// RevocationKey is the tombstone for a revoked token. The entry lives
// exactly as long as the token would have.
func RevocationKey(tokenID string) string {
	return "revoked:" + tokenID
}
