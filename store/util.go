package store

// PairKey builds the canonical key for an unordered user pair. Both directions
// of a request map to the same key, so a unique index on it admits at most one
// pending request per pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
