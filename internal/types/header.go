package types

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAuthorization = "Authorization"
	HeaderPlatformKey   = "X-Platform-Key"
	HeaderIdempotency   = "X-Idempotency-Key"

	// provider webhook headers
	HeaderFakeWebhookSecret = "X-Webhook-Secret"
	HeaderMercadoPagoSig    = "X-Signature"
	HeaderMercadoPagoReqID  = "X-Request-Id"
	HeaderStripeSignature   = "Stripe-Signature"
)
