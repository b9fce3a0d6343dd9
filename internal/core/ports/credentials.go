package ports

import "github.com/melih/howls-moving-docker/internal/core/domain"

// CredentialSource hands out randomized decoy credentials.
type CredentialSource interface {
	Credentials() domain.Credentials
}
