// Package auth resolves provider access tokens to external identities and
// authenticates API requests that carry an already-issued session token.
package auth

import "github.com/sakif/backchat/internal/model"

// Provider is a supported external identity service.
//
// The set is closed. Adding a provider means adding a constant here and a
// row to providerSpecs; ParseProvider and the resolver pick it up from there.
type Provider string

const (
	ProviderFacebook Provider = "facebook"
	ProviderGoogle   Provider = "gpp"
)

// providerSpec describes how one provider is queried and where its answer
// is stored locally.
type providerSpec struct {
	// endpoint is the identity URL; the access token is added as the
	// access_token query parameter.
	endpoint string
	// idField is the JSON field carrying the provider's user id.
	idField string
	// idType is the users column that stores the id.
	idType model.IDType
}

var providerSpecs = map[Provider]providerSpec{
	ProviderFacebook: {
		endpoint: "https://graph.facebook.com/me",
		idField:  "id",
		idType:   model.IDTypeFacebook,
	},
	ProviderGoogle: {
		endpoint: "https://www.googleapis.com/oauth2/v1/tokeninfo",
		idField:  "user_id",
		idType:   model.IDTypeGoogle,
	},
}

// ParseProvider maps a request's provider name to a Provider.
func ParseProvider(name string) (Provider, bool) {
	p := Provider(name)
	_, ok := providerSpecs[p]
	return p, ok
}

// IDType returns the users column the provider's ids are stored in.
func (p Provider) IDType() model.IDType {
	return providerSpecs[p].idType
}

func (p Provider) String() string { return string(p) }

// Identity is the normalized answer of a provider: which local column to
// match on, the id to match, and the email the provider reported (empty if
// it reported none).
type Identity struct {
	Provider Provider
	IDType   model.IDType
	IDValue  string
	Email    string
}
