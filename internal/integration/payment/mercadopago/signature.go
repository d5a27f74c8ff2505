package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/types"
)

// parseSignatureHeader reads "ts=<unix>,v1=<hex>".
func parseSignatureHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", ierr.NewError("malformed x-signature header").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}
	return ts, v1, nil
}

// signatureManifest builds the signed template. Parts whose value is absent
// are left out.
func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// queryDataID returns the resource id from the notification query string.
func queryDataID(query url.Values) string {
	for _, key := range []string{"data.id", "data_id", "id"} {
		if v := strings.TrimSpace(query.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// verifySignature checks x-signature and returns the signed resource id. An
// unset secret rejects every request, and so does a query without data.id:
// the id in the body is not covered by the signature.
func verifySignature(secret string, headers http.Header, query url.Values) (string, error) {
	if secret == "" {
		return "", ierr.NewError("mercadopago webhook secret not configured").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}

	dataID := queryDataID(query)
	if dataID == "" {
		return "", ierr.NewError("missing mercadopago data.id").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}

	header := headers.Get(types.HeaderMercadoPagoSig)
	if header == "" {
		return "", ierr.NewError("missing x-signature header").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}
	ts, v1, err := parseSignatureHeader(header)
	if err != nil {
		return "", err
	}

	manifest := signatureManifest(dataID, headers.Get(types.HeaderMercadoPagoReqID), ts)
	expected := sign(secret, manifest)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return "", ierr.NewError("mercadopago signature mismatch").
			WithHint("Invalid webhook").
			Mark(ierr.ErrInvalidSignature)
	}
	return dataID, nil
}
