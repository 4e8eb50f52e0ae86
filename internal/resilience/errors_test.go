package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", NewStatusError("brevo", "get contact", 503, nil), true},
		{"429 wrapped", eris.Wrap(NewStatusError("brevo", "list deals", 429, nil), "crm: list deals"), true},
		{"404", NewStatusError("brevo", "get contact", 404, nil), false},
		{"400", NewStatusError("googleads", "upload", 400, nil), false},
		{"net timeout", timeoutErr{}, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"reset text", errors.New("read tcp: connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("invalid payload"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	body := make([]byte, 2000)
	for i := range body {
		body[i] = 'x'
	}
	err := NewStatusError("brevo", "create deal", 500, body)
	assert.Len(t, err.Body, 512)
	assert.Contains(t, err.Error(), "brevo: create deal: status 500")
	assert.Equal(t, 500, StatusCode(eris.Wrap(err, "crm")))
	assert.Equal(t, 0, StatusCode(errors.New("x")))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transient", Classify(NewStatusError("x", "y", 502, nil)))
	assert.Equal(t, "permanent", Classify(errors.New("bad")))
}
