package auth

// Identity is an authenticated principal as reported by the identity provider.
type Identity struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	TrustLevel int    `json:"trust_level"`
	Active     bool   `json:"active"`
	Silenced   bool   `json:"silenced"`
}

// DisplayName returns the best human-facing name for the identity.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Username
}
