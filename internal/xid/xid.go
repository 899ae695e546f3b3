package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns prefix-<uuidv7>. Falls back to a random v4 if the v7 clock
// source fails.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, newUUID().String())
}

// Number builds a human-facing document number such as
// BILL-20260101-0190F2A8C4D27E3BA1F09C55D2E6B7A1. The date is only for
// readability; uniqueness comes from the UUIDv7 suffix.
func Number(prefix string, at time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(newUUID().String(), "-", ""))
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), id)
}

func newUUID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
