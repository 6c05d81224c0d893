package mail

import (
	"fmt"
	"regexp"
	"strings"

	emailaddress "github.com/mcnijman/go-emailaddress"
)

var hostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// ValidateHost accepts a bare domain name such as smtp.example.com.
func ValidateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return &ValidationError{Field: "host", Message: "SMTP host is required"}
	}
	if strings.Contains(host, "@") || !hostPattern.MatchString(host) {
		return &ValidationError{
			Field:   "host",
			Message: "SMTP host should be a domain name (e.g., smtp.example.com), not an email address. Did you enter your username in the host field?",
		}
	}
	return nil
}

func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: "port", Message: "SMTP port must be between 1 and 65535"}
	}
	return nil
}

// ValidateFromAddress checks that addr is a syntactically valid email address.
func ValidateFromAddress(addr string) error {
	if _, err := emailaddress.Parse(strings.TrimSpace(addr)); err != nil {
		return &ValidationError{
			Field:   "fromEmail",
			Message: fmt.Sprintf("Invalid \"From\" email address: %q. Please set a valid email address in SMTP settings.", addr),
		}
	}
	return nil
}
