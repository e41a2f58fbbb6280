package application

import (
	"crypto/rand"
	"encoding/base32"
	"time"
)

const orderNumberPrefix = "ORD-"

var orderNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewOrderNumber builds ORD-<yyyymmddhhmmss>-<8 random base32 chars>. The time
// prefix keeps numbers sortable; 40 random bits keep same-second numbers apart.
func NewOrderNumber(now time.Time) string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return orderNumberPrefix + now.UTC().Format("20060102150405") + "-" + orderNumberEncoding.EncodeToString(b)
}
