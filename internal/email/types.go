package email

import "context"

// Sender delivers plain notification emails. Implementations log delivery
// failures themselves; callers treat a returned error as informational.
type Sender interface {
	SendGenericEmail(ctx context.Context, to []string, subject, body string) error
}

// SendEmailRequest is a plain text email.
type SendEmailRequest struct {
	FromAddress string   `json:"from_address"`
	ToAddress   []string `json:"to_address" validate:"required,min=1,dive,email"`
	Subject     string   `json:"subject" validate:"required"`
	Text        string   `json:"text" validate:"required"`
}

// SendEmailResponse reports one delivery.
type SendEmailResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// SendEmailWithTemplateRequest renders TemplatePath with Data as the HTML
// part.
type SendEmailWithTemplateRequest struct {
	FromAddress  string                 `json:"from_address"`
	ToAddress    []string               `json:"to_address" validate:"required,min=1,dive,email"`
	Subject      string                 `json:"subject" validate:"required"`
	TemplatePath string                 `json:"template_path" validate:"required"`
	Text         string                 `json:"text"`
	Data         map[string]interface{} `json:"data"`
}

type SendEmailWithTemplateResponse = SendEmailResponse
