package kms

import (
	"fmt"
	"strings"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// Dependencies are the collaborators the backends may need.
type Dependencies struct {
	Secrets repository.SecretStore
	Link    service.LinkClient
	Logger  logger.Logger
}

// NewSscd builds the backend named by name (software, vault, pkcs11 or
// external, case-insensitive).
func NewSscd(name string, cfg *config.Config, deps Dependencies) (service.Sscd, error) {
	switch strings.ToUpper(name) {
	case TypeSoftware:
		if deps.Secrets == nil {
			return nil, fmt.Errorf("software sscd requires a secret store")
		}
		return NewSoftwareSscd(deps.Secrets, deps.Logger), nil
	case TypeVault:
		client, err := NewVaultClient(cfg.Vault)
		if err != nil {
			return nil, err
		}
		return NewVaultSscd(cfg.Vault, client, deps.Logger), nil
	case TypePKCS11:
		return NewPKCS11Sscd(cfg.PKCS11, deps.Logger)
	case TypeExternal:
		if deps.Link == nil {
			return nil, fmt.Errorf("external sscd requires a link client")
		}
		return NewExternalSscd(deps.Link, nil, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown sscd %q", name)
	}
}
