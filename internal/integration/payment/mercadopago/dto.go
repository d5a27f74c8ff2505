package mercadopago

import (
	"encoding/json"
	"time"
)

// flexID accepts ids sent as JSON strings or numbers. Payment ids are
// numeric while preapproval ids are strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string {
	return string(f)
}

// AutoRecurring is the recurrence block of a preapproval.
type AutoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

// CreatePreapprovalRequest starts a card subscription.
type CreatePreapprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	PayerEmail        string        `json:"payer_email"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	BackURL           string        `json:"back_url"`
	Status            string        `json:"status"`
	NotificationURL   string        `json:"notification_url,omitempty"`
}

// Preapproval is a recurring card subscription.
type Preapproval struct {
	ID                flexID         `json:"id"`
	Status            string         `json:"status"`
	ExternalReference string         `json:"external_reference"`
	Reason            string         `json:"reason"`
	InitPoint         string         `json:"init_point"`
	SandboxInitPoint  string         `json:"sandbox_init_point"`
	AutoRecurring     *AutoRecurring `json:"auto_recurring,omitempty"`
}

// CheckoutURL prefers the production init point.
func (p *Preapproval) CheckoutURL() string {
	if p.InitPoint != "" {
		return p.InitPoint
	}
	return p.SandboxInitPoint
}

type updatePreapprovalRequest struct {
	Status string `json:"status"`
}

// AuthorizedPayment is one recurring charge of a preapproval.
type AuthorizedPayment struct {
	ID                flexID `json:"id"`
	Status            string `json:"status"`
	PreapprovalID     string `json:"preapproval_id"`
	ExternalReference string `json:"external_reference"`
}

// Payer of a one-shot payment.
type Payer struct {
	Email string `json:"email"`
}

// CreatePixPaymentRequest creates a PIX charge.
type CreatePixPaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	ExternalReference string  `json:"external_reference"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	DateOfExpiration  string  `json:"date_of_expiration,omitempty"`
	Payer             Payer   `json:"payer"`
}

// TransactionData carries the PIX QR code.
type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// PointOfInteraction wraps TransactionData.
type PointOfInteraction struct {
	TransactionData TransactionData `json:"transaction_data"`
}

// Payment is a one-shot payment.
type Payment struct {
	ID                 flexID             `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	ExternalReference  string             `json:"external_reference"`
	TransactionAmount  float64            `json:"transaction_amount"`
	CurrencyID         string             `json:"currency_id"`
	DateOfExpiration   *time.Time         `json:"date_of_expiration,omitempty"`
	PointOfInteraction PointOfInteraction `json:"point_of_interaction"`
}

// WebhookNotification is the body MercadoPago posts.
type WebhookNotification struct {
	ID     flexID `json:"id"`
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// ErrorResponse is MercadoPago's error body.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}
