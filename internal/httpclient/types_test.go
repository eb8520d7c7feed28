package httpclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/pkgpulse/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		url        string
		message    string
		expected   string
	}{
		{
			name:       "not found on downloads API",
			statusCode: 404,
			url:        "https://api.npmjs.org/downloads/point/last-day/nope",
			message:    "404 Not Found",
			expected:   "HTTP 404 for URL https://api.npmjs.org/downloads/point/last-day/nope: 404 Not Found",
		},
		{
			name:       "empty message",
			statusCode: 500,
			url:        "http://example.com",
			message:    "",
			expected:   "HTTP 500 for URL http://example.com: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := httpclient.NewHTTPError(tt.statusCode, tt.url, tt.message)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}
