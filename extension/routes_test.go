package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/v1/charges", "/v1/charges"},
		{"/v1/charges/{id}/refunds", "/v1/charges/:id/refunds"},
		{"/v1/webhooks/{eventID}/deliveries", "/v1/webhooks/:eventID/deliveries"},
		{"/files/{path...}", "/files/:path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routePath(tt.in), tt.in)
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/v1/charges", joinPath("/", "/v1/charges"))
	assert.Equal(t, "/billing/v1/charges", joinPath("/billing/", "/v1/charges"))
	assert.Equal(t, "/billing/healthz", joinPath("/billing", "/healthz"))
}
