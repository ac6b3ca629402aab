package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// QuoteHash computes the canonical quote fingerprint: a SHA-256 digest over
// an ordered join of the booking inputs that determine price. It is
// computed once at initialize and recomputed and compared on hold/
// payment-intent to detect a corrupted record (the inputs themselves are
// immutable after INITIATED, so a mismatch can only mean the stored
// document was corrupted).
func QuoteHash(listingID, checkIn, checkOut string, guests Guests, couponCode string) string {
	canonical := fmt.Sprintf("%s|%s|%s|%d|%d|%d|%s",
		listingID, checkIn, checkOut, guests.Adults, guests.Children, guests.Infants, couponCode)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
