package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHost(t *testing.T) {
	for _, host := range []string{"smtp.example.com", "smtp-relay.brevo.com", "localhost", "127.0.0.1"} {
		assert.NoError(t, ValidateHost(host), host)
	}

	for _, host := range []string{"user@smtp.example.com", "", "  ", "smtp..example.com", "-smtp.example.com", "smtp.example.com:587"} {
		err := ValidateHost(host)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, host)
		assert.Equal(t, "host", verr.Field)
	}
}

func TestValidateFromAddress(t *testing.T) {
	assert.NoError(t, ValidateFromAddress("forms@example.com"))

	for _, addr := range []string{"", "not-an-email", "a@", "@example.com"} {
		var verr *ValidationError
		require.ErrorAs(t, ValidateFromAddress(addr), &verr, addr)
		assert.Equal(t, "fromEmail", verr.Field)
	}
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(587))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(70000))
}
