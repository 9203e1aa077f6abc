package refresh

import "errors"

var (
	// ErrNotConnected indicates no credential exists for the (user, provider) pair.
	ErrNotConnected = errors.New("token_refresher.not_connected")
	// ErrNeedsReauthorization indicates the provider rejected the grant; the user must reconnect.
	ErrNeedsReauthorization = errors.New("token_refresher.needs_reauthorization")
	// ErrTransientRefresh indicates a retryable refresh failure. Stored state is untouched.
	ErrTransientRefresh = errors.New("token_refresher.transient")
)
