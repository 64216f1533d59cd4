package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random id with the given prefix, e.g. "stk-3f2a...".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")
}

// Daily formats a human-readable id from the day and a per-day sequence:
// Daily("sale", day, 7) is "sale-1016-7".
func Daily(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%d", prefix, day.Format("0102"), seq)
}
