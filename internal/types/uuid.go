package types

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Id prefixes, one per persisted entity.
const (
	UUID_PREFIX_SUBSCRIPTION   = "sub"
	UUID_PREFIX_BILLING_EVENT  = "bevt"
	UUID_PREFIX_PLAN           = "plan"
	UUID_PREFIX_EXPORT_REQUEST = "expreq"
)

// GenerateUUID returns a lower-cased ULID.
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns prefix_<ulid>.
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return prefix + "_" + GenerateUUID()
}
