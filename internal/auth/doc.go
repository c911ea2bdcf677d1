// Package auth resolves authenticated identities for the handout service.
//
// Identity itself is owned by an external OAuth2 provider; this package holds
// the client for the authorization-code flow, the Identity record the provider
// yields, and the durable session layer that maps opaque session tokens back
// to identities between requests.
package auth
