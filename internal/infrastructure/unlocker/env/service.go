package envunlocker

import (
	"context"
	"fmt"

	"github.com/paychan-labs/paychand/internal/core/ports"
)

type service struct {
	secret string
}

func NewService(secret string) (ports.Unlocker, error) {
	if len(secret) <= 0 {
		return nil, fmt.Errorf("missing secret in environment")
	}
	return &service{secret}, nil
}

func (s *service) GetSecret(_ context.Context) (string, error) {
	return s.secret, nil
}
