package enums

import "fmt"

// CheckoutStatus mirrors the processor-side state of a checkout attempt.
type CheckoutStatus string

const (
	CheckoutStatusCreated CheckoutStatus = "created"
	CheckoutStatusPending CheckoutStatus = "pending"
	CheckoutStatusPaid    CheckoutStatus = "paid"
	CheckoutStatusFailed  CheckoutStatus = "failed"
	CheckoutStatusExpired CheckoutStatus = "expired"
)

var validCheckoutStatuses = []CheckoutStatus{
	CheckoutStatusCreated,
	CheckoutStatusPending,
	CheckoutStatusPaid,
	CheckoutStatusFailed,
	CheckoutStatusExpired,
}

// String implements fmt.Stringer.
func (c CheckoutStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CheckoutStatus.
func (c CheckoutStatus) IsValid() bool {
	for _, candidate := range validCheckoutStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a checkout row is immutable. Rows stay mutable
// only while created or pending.
func (c CheckoutStatus) IsTerminal() bool {
	switch c {
	case CheckoutStatusPaid, CheckoutStatusFailed, CheckoutStatusExpired:
		return true
	default:
		return false
	}
}

// ParseCheckoutStatus converts raw input into a CheckoutStatus.
func ParseCheckoutStatus(value string) (CheckoutStatus, error) {
	for _, candidate := range validCheckoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout status %q", value)
}
