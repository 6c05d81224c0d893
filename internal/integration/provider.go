package integration

import (
	"fmt"
	"strings"

	"github.com/veerhq/veer/internal/models"
)

// Names used for providers in the dashboard and API paths.
const (
	NameGmail   = "gmail"
	NameOutlook = "outlook"
	NameCustom  = "custom"
)

func ParseProvider(name string) (models.IntegrationProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameGmail:
		return models.ProviderGmail, nil
	case NameOutlook:
		return models.ProviderOutlook, nil
	case NameCustom:
		return models.ProviderCustom, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

func ProviderName(p models.IntegrationProvider) string {
	switch p {
	case models.ProviderGmail:
		return NameGmail
	case models.ProviderOutlook:
		return NameOutlook
	case models.ProviderCustom:
		return NameCustom
	}
	return strings.ToLower(string(p))
}
