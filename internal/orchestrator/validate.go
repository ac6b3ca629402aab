package orchestrator

import (
	"net/mail"
	"time"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/checkout"
)

const dateLayout = "2006-01-02"

// validateInitializeInput enforces the initialize business rules: listingId
// non-empty, checkIn/checkOut well-formed and ordered against today, and
// at least one adult. This is business-rule validation the orchestrator
// owns, distinct from generic request-schema validation at the HTTP layer.
func validateInitializeInput(in InitializeInput) error {
	if in.ListingID == "" {
		return apierr.New(apierr.CodeValidation, "listingId is required").WithDetails(field("listingId"))
	}

	checkIn, err := time.Parse(dateLayout, in.CheckIn)
	if err != nil {
		return apierr.New(apierr.CodeValidation, "checkIn must be YYYY-MM-DD").WithDetails(field("checkIn"))
	}
	checkOut, err := time.Parse(dateLayout, in.CheckOut)
	if err != nil {
		return apierr.New(apierr.CodeValidation, "checkOut must be YYYY-MM-DD").WithDetails(field("checkOut"))
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if checkIn.Before(today) {
		return apierr.New(apierr.CodeValidation, "checkIn must be today or later").WithDetails(field("checkIn"))
	}
	if !checkOut.After(checkIn) {
		return apierr.New(apierr.CodeValidation, "checkOut must be after checkIn").WithDetails(field("checkOut"))
	}

	if in.Guests.Adults < 1 {
		return apierr.New(apierr.CodeValidation, "at least one adult is required").WithDetails(field("guests.adults"))
	}
	if in.Guests.Children < 0 || in.Guests.Infants < 0 {
		return apierr.New(apierr.CodeValidation, "guest counts must not be negative").WithDetails(field("guests"))
	}

	return nil
}

// validateGuest enforces the GUEST_REQUIRED precondition for CreateHold: a
// guest record with a syntactically valid email.
func validateGuest(g *checkout.Guest) error {
	if g == nil || g.FirstName == "" || g.LastName == "" || g.Email == "" {
		return apierr.New(apierr.CodeGuestRequired, "guest with first name, last name, and email is required")
	}
	if _, err := mail.ParseAddress(g.Email); err != nil {
		return apierr.New(apierr.CodeGuestRequired, "guest email is not a valid address")
	}
	return nil
}

func field(name string) map[string]any {
	return map[string]any{"field": name}
}
