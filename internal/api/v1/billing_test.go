package v1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                  "/dashboard",
		"   ":               "/dashboard",
		"/clients?page=2":   "/clients?page=2",
		"//evil.example":    "/dashboard",
		"https://evil.test": "/dashboard",
		`/\evil.example`:    "/dashboard",
		"dashboard":         "/dashboard",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeNext(in), "next=%q", in)
	}
}
