package integration

import "github.com/veerhq/veer/internal/models"

// State is the lifecycle position of one provider's integration. It is one of
// Unconfigured, Connected or Active.
type State interface {
	Name() string
}

type Unconfigured struct{}

// Connected has stored credentials but is not the sending provider.
// Expired is set when the provider revoked the stored grant.
type Connected struct {
	Record    *models.Integration
	LastError string
	Expired   bool
}

// Active is the single provider used for outbound mail.
type Active struct {
	Record *models.Integration
}

func (Unconfigured) Name() string { return "unconfigured" }

func (c Connected) Name() string {
	if c.Expired {
		return "expired"
	}
	return "connected"
}

func (Active) Name() string { return "active" }

// StateOf derives the lifecycle state of rec. A record without credentials is
// Unconfigured whatever its status column says.
func StateOf(rec *models.Integration) State {
	if !rec.HasCredentials() {
		return Unconfigured{}
	}
	switch rec.Status {
	case models.StatusActive:
		return Active{Record: rec}
	case models.StatusExpired:
		return Connected{Record: rec, LastError: rec.ErrorMessage, Expired: true}
	default:
		return Connected{Record: rec, LastError: rec.ErrorMessage}
	}
}
