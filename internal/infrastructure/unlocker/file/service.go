package fileunlocker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/paychan-labs/paychand/internal/core/ports"
)

type service struct {
	filePath string
}

func NewService(filePath string) (ports.Unlocker, error) {
	if len(filePath) <= 0 {
		return nil, fmt.Errorf("missing secret file path")
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("secret file not found: %s", err)
	}
	return &service{filePath}, nil
}

func (s *service) GetSecret(_ context.Context) (string, error) {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %s", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
