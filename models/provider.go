package models

// ProviderDescriptor is the resolved, static configuration of one identity provider.
// Endpoints come either from explicit configuration or from OIDC discovery.
type ProviderDescriptor struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"-"`
	Issuer                string   `json:"issuer,omitempty"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint"`
	Scopes                []string `json:"scopes"`
}

// DefaultScopes are requested when a provider does not configure its own
var DefaultScopes = []string{"openid", "profile", "email"}

// Resolved reports whether all endpoints needed for the code flow are known
func (p *ProviderDescriptor) Resolved() bool {
	return p.AuthorizationEndpoint != "" && p.TokenEndpoint != "" && p.UserInfoEndpoint != ""
}
