package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rl337/authface/models"
)

// discoveryDocument holds the endpoint fields read from
// /.well-known/openid-configuration
type discoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

// Discover fills in any endpoint the descriptor does not configure from the
// issuer's discovery document. Explicit endpoints win. A descriptor that is
// already resolved is returned unchanged without network I/O.
func Discover(ctx context.Context, client *http.Client, descriptor models.ProviderDescriptor) (models.ProviderDescriptor, error) {
	if len(descriptor.Scopes) == 0 {
		descriptor.Scopes = append([]string(nil), models.DefaultScopes...)
	}
	if descriptor.Resolved() {
		return descriptor, nil
	}
	if descriptor.Issuer == "" {
		return descriptor, fmt.Errorf("provider %q: no issuer to discover endpoints from", descriptor.ID)
	}

	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, descriptor.Issuer)
	if err != nil {
		return descriptor, fmt.Errorf("provider %q: discovery failed: %w", descriptor.ID, err)
	}

	var doc discoveryDocument
	if err := provider.Claims(&doc); err != nil {
		return descriptor, fmt.Errorf("provider %q: failed to read discovery document: %w", descriptor.ID, err)
	}

	if descriptor.AuthorizationEndpoint == "" {
		descriptor.AuthorizationEndpoint = doc.AuthorizationEndpoint
	}
	if descriptor.TokenEndpoint == "" {
		descriptor.TokenEndpoint = doc.TokenEndpoint
	}
	if descriptor.UserInfoEndpoint == "" {
		descriptor.UserInfoEndpoint = doc.UserInfoEndpoint
	}

	if !descriptor.Resolved() {
		return descriptor, fmt.Errorf("provider %q: discovery document is missing endpoints", descriptor.ID)
	}
	return descriptor, nil
}
