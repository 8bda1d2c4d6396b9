package services_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sahilchouksey/search-gateway/services"
	"github.com/stretchr/testify/assert"
)

func TestWithRequestTruncatesUserAgent(t *testing.T) {
	tc := tenantCtx(1)

	short := tc.WithRequest("10.0.0.1", "curl/8.4.0")
	assert.Equal(t, "curl/8.4.0", short.UserAgent)
	assert.Equal(t, "10.0.0.1", short.IPAddress)

	// 'é' is two bytes, so the cut point falls inside a rune when the prefix is odd
	long := tc.WithRequest("10.0.0.1", "x"+strings.Repeat("é", 400))
	assert.LessOrEqual(t, len(long.UserAgent), services.MaxUserAgentLength)
	assert.Equal(t, services.MaxUserAgentLength-1, len(long.UserAgent))
	assert.True(t, utf8.ValidString(long.UserAgent))

	exact := strings.Repeat("a", services.MaxUserAgentLength)
	assert.Equal(t, exact, tc.WithRequest("", exact).UserAgent)
}
