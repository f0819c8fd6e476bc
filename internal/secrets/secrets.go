// Package secrets resolves credentials by name.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var ErrNotFound = errors.New("secret not found")

const (
	AzureDevOpsToken        = "AZURE_DEVOPS_TOKEN"
	AzureDevOpsOrganization = "AZURE_DEVOPS_ORGANIZATION"
	AzureDevOpsProject      = "AZURE_DEVOPS_PROJECT"
	AnthropicAPIKey         = "ANTHROPIC_API_KEY"
	JWTSecret               = "TASKLINE_JWT_SECRET"
)

type Source interface {
	GetSecret(name string) (string, bool)
}

// EnvSource reads secrets from the process environment through viper.
type EnvSource struct {
	v *viper.Viper
}

func NewEnvSource() EnvSource {
	v := viper.New()
	v.AutomaticEnv()
	return EnvSource{v: v}
}

func (s EnvSource) GetSecret(name string) (string, bool) {
	if s.v == nil {
		return "", false
	}
	val := strings.TrimSpace(s.v.GetString(name))
	return val, val != ""
}

// Static is a fixed map of secrets.
type Static map[string]string

func (s Static) GetSecret(name string) (string, bool) {
	val, ok := s[name]
	return val, ok && val != ""
}

// Chain asks each source in turn and returns the first hit.
type Chain []Source

func (c Chain) GetSecret(name string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if val, ok := s.GetSecret(name); ok {
			return val, true
		}
	}
	return "", false
}

// Require returns the secret or ErrNotFound wrapped with its name.
func Require(src Source, name string) (string, error) {
	if val, ok := src.GetSecret(name); ok {
		return val, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
