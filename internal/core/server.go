// Package core is the HTTP surface of ossgate. It binds requests onto the
// transfer, multipart and policy services and renders every outcome in a
// {code, message, data} envelope.
package core

import (
	"errors"
	"ossgate/internal/multipart"
	"ossgate/internal/policy"
	"ossgate/internal/transfer"
)

type Server struct {
	config    Config
	transfer  *transfer.Service
	multipart *multipart.Manager
	issuer    *policy.Issuer
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("core: no object store configured")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("core: no authenticator configured")
	}

	transferOpts := []transfer.Option{
		transfer.WithMaxListPages(cfg.MaxListPages),
	}
	if cfg.SignedURLTTL > 0 {
		transferOpts = append(transferOpts, transfer.WithSignedURLTTL(cfg.SignedURLTTL))
	}
	if cfg.Namer != nil {
		transferOpts = append(transferOpts, transfer.WithNamer(*cfg.Namer))
	}

	return &Server{
		config:    cfg,
		transfer:  transfer.NewService(cfg.Store, transferOpts...),
		multipart: multipart.NewManager(cfg.Store, multipart.WithMaxListPages(cfg.MaxListPages)),
		issuer:    cfg.Issuer,
	}, nil
}
