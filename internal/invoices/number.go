package invoices

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	numberSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	numberSuffixLen      = 4
)

// invoiceNumber renders an invoice number such as INV-20260115-7KQ2: prefix,
// UTC issue date and a random 4-character suffix. Collisions are resolved by
// the unique constraint on invoices.number plus the caller's retry loop.
func invoiceNumber(prefix string, day time.Time) (string, error) {
	buf := make([]byte, numberSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = numberSuffixAlphabet[int(b)%len(numberSuffixAlphabet)]
	}
	return fmt.Sprintf("%s%s-%s", prefix, day.UTC().Format("20060102"), string(buf)), nil
}
