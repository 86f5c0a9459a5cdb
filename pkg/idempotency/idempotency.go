package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// MaxKeyLength bounds keys stored alongside orders.
const MaxKeyLength = 128

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Valid reports whether a non-empty key fits the storage column.
func Valid(key string) bool {
	return len(key) <= MaxKeyLength
}
