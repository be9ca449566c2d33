package service

import (
	"fmt"
	"strings"
	"time"
)

// disputeReasons maps Stripe dispute reason codes to the phrasing used in
// admin alert emails. Codes not listed here fall back to a generic
// de-underscored form.
var disputeReasons = map[string]string{
	"bank_cannot_process":       "Bank cannot process",
	"check_returned":            "Check returned",
	"credit_not_processed":      "Credit not processed",
	"customer_initiated":        "Customer initiated",
	"debit_not_authorized":      "Debit not authorized",
	"duplicate":                 "Duplicate charge",
	"fraudulent":                "Fraudulent",
	"general":                   "General",
	"incorrect_account_details": "Incorrect account details",
	"insufficient_funds":        "Insufficient funds",
	"product_not_received":      "Product not received",
	"product_unacceptable":      "Product unacceptable",
	"subscription_canceled":     "Subscription canceled",
	"unrecognized":              "Unrecognized charge",
}

// HumanizeDisputeReason returns a readable label for a Stripe dispute reason
// code. Unknown codes get their underscores replaced with spaces so new codes
// still render sensibly.
func HumanizeDisputeReason(reason string) string {
	if reason == "" {
		return "Unknown"
	}
	if label, ok := disputeReasons[reason]; ok {
		return label
	}
	return strings.ReplaceAll(reason, "_", " ")
}

// FormatMinorAmount renders a minor-unit amount (cents, øre) as a decimal
// string with two fraction digits: 10000 -> "100.00".
func FormatMinorAmount(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	s := fmt.Sprintf("%d.%02d", amount/100, amount%100)
	if negative {
		return "-" + s
	}
	return s
}

// DisputeDashboardURL returns the Stripe dashboard page for a dispute.
func DisputeDashboardURL(disputeID string) string {
	return "https://dashboard.stripe.com/disputes/" + disputeID
}

// FormatEvidenceDeadline renders an evidence due date for email copy,
// or "N/A" when the processor supplied none.
func FormatEvidenceDeadline(dueBy *time.Time) string {
	if dueBy == nil || dueBy.IsZero() {
		return "N/A"
	}
	return dueBy.UTC().Format("Jan 2, 2006")
}
