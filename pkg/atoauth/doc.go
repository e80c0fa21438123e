// Package atoauth holds the shared AT Protocol OAuth types used across
// limit's auth core: the DPoP JWK shape exchanged with the token broker,
// the token bundle produced by code exchange and refresh, and helpers for
// decoding claims out of access tokens without verifying them.
//
// Verification of access tokens is the PDS's job, not the client's; the
// client only inspects the aud claim to learn which PDS a token is bound
// to. Nothing in this package performs signature validation.
package atoauth
