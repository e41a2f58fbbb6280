package application

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestNewOrderNumber(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 9, 23, 4, 5, 0, time.FixedZone("UTC+3", 3*3600))
	n := NewOrderNumber(at)

	assert.Regexp(t, `^ORD-20260109200405-[A-Z2-7]{8}$`, n)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		seen[NewOrderNumber(at)] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}
