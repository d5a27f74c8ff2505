package payment

import (
	"fmt"
	"strings"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
)

// BuildExternalReference encodes the correlation reference attached to
// provider objects.
func BuildExternalReference(tenantID string, planCode types.PlanCode) string {
	return fmt.Sprintf("tenant_id=%s;plan_code=%s", tenantID, planCode)
}

// ParseExternalReference decodes a reference. Both ';' and '&' separate
// pairs and the short keys tenant and plan are accepted.
func ParseExternalReference(ref string) (tenantID string, planCode types.PlanCode, err error) {
	fields := strings.FieldsFunc(ref, func(r rune) bool { return r == ';' || r == '&' })
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(strings.ToLower(key)) {
		case "tenant_id", "tenant":
			tenantID = value
		case "plan_code", "plan":
			if value == "" {
				continue
			}
			if planCode, err = types.ParsePlanCode(value); err != nil {
				return "", "", err
			}
		}
	}
	if tenantID == "" {
		return "", "", ierr.NewError("external reference has no tenant").
			WithHint("Webhook could not be correlated to a tenant").
			Mark(ierr.ErrUncorrelatedEvent)
	}
	return tenantID, planCode, nil
}

// NormalizeStatus maps a raw payment status onto the engine's event types.
// Unmapped statuses become <source>_<status>.
func NormalizeStatus(source, status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		s = "updated"
	}
	switch s {
	case "approved", "authorized", "paid", "active", "processed", "succeeded":
		return types.EventTypePaymentSucceeded
	case "rejected", "cancelled", "canceled", "refunded", "charged_back", "failed":
		return types.EventTypePaymentFailed
	}
	return fmt.Sprintf("%s_%s", source, s)
}
