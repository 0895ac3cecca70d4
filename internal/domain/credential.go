package domain

import "time"

// CredentialKind identifies how a credential was obtained
type CredentialKind string

const (
	CredentialKindPersonalToken   CredentialKind = "personal_token"
	CredentialKindAppInstallation CredentialKind = "app_installation"
)

// Credential is a bearer credential for the GitHub API
type Credential struct {
	Kind      CredentialKind
	Token     string
	ExpiresAt *time.Time // nil means the credential does not expire within a run
}

// ValidFor reports whether the credential is still usable at now with at least margin left.
func (c Credential) ValidFor(now time.Time, margin time.Duration) bool {
	if c.Token == "" {
		return false
	}
	if c.ExpiresAt == nil {
		return true
	}
	return now.Add(margin).Before(*c.ExpiresAt)
}
