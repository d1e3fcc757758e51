package identity

import "context"

// ExternalVerification is the collaborator interface for the out-of-scope OAuth/verification
// exchange (spec.md §6.4). Any implementation satisfying this predicate is acceptable; Service
// does not prescribe the transport.
type ExternalVerification interface {
	Verify(ctx context.Context, handle, code string) (ok bool, externalID string, err error)
}

// DevModeVerification short-circuits verification when no external credential is configured
// (spec.md §6.5's TWITTER_BEARER_TOKEN switch): every claim is accepted. Callers must log this
// loudly at startup, since it is a security-relevant configuration switch.
type DevModeVerification struct{}

func (DevModeVerification) Verify(_ context.Context, handle, _ string) (bool, string, error) {
	return true, handle, nil
}
