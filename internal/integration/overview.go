package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/veerhq/veer/internal/models"
)

// ProviderStatus is the dashboard view of one email provider.
type ProviderStatus struct {
	Provider     string     `json:"provider"`
	State        string     `json:"state"`
	EmailAddress string     `json:"emailAddress,omitempty"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	SMTP         *SMTPView  `json:"smtp,omitempty"`
}

// SMTPView holds the stored relay settings. The password is never included.
type SMTPView struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user"`
	FromEmail string `json:"fromEmail"`
}

type Overview struct {
	Providers      []ProviderStatus `json:"providers"`
	ActiveProvider string           `json:"activeProvider,omitempty"`
}

func (s *Service) Overview(ctx context.Context, user *models.User) (*Overview, error) {
	recs, err := s.integrations.ListIntegrationsByUserID(ctx, user.ID, models.IntegrationEmail)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	byProvider := make(map[models.IntegrationProvider]*models.Integration, len(recs))
	for i := range recs {
		byProvider[recs[i].Provider] = &recs[i]
	}

	out := &Overview{Providers: make([]ProviderStatus, 0, len(models.EmailProviders))}
	for _, p := range models.EmailProviders {
		ps := ProviderStatus{Provider: ProviderName(p), State: Unconfigured{}.Name()}
		rec, ok := byProvider[p]
		if !ok {
			out.Providers = append(out.Providers, ps)
			continue
		}

		st := StateOf(rec)
		ps.State = st.Name()
		ps.EmailAddress = rec.EmailAddress
		ps.ConnectedAt = rec.ConnectedAt
		ps.LastError = rec.ErrorMessage
		if p == models.ProviderCustom && rec.SMTPHost != "" {
			ps.SMTP = &SMTPView{
				Host:      rec.SMTPHost,
				Port:      rec.SMTPPort,
				User:      rec.SMTPUser,
				FromEmail: rec.SMTPFromEmail,
			}
		}
		if _, active := st.(Active); active && out.ActiveProvider == "" {
			out.ActiveProvider = ps.Provider
		}
		out.Providers = append(out.Providers, ps)
	}
	return out, nil
}
