package store

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialNotFound indicates no credential is stored for the (user, provider) pair.
	ErrCredentialNotFound = errors.New("credential_store.not_found")
	// ErrConnectionNotFound indicates no connection is recorded for the (user, provider) pair.
	ErrConnectionNotFound = errors.New("connection_store.not_found")
	// ErrStorage marks failures of the underlying storage engine, as opposed to missing rows.
	ErrStorage = errors.New("store.storage_failure")
	// ErrMissingField indicates a required field was empty on write.
	ErrMissingField = errors.New("store.missing_field")
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("store.unsupported_dialect")

	errMissingUserID      = fmt.Errorf("%w: user_id", ErrMissingField)
	errMissingProviderID  = fmt.Errorf("%w: provider_id", ErrMissingField)
	errMissingAccessToken = fmt.Errorf("%w: access_token", ErrMissingField)
	errMissingEndpointID  = fmt.Errorf("%w: endpoint_id", ErrMissingField)
)
