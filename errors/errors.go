package errors

import "errors"

// Sentinel errors for the authentication engine. Callers wrap these with
// fmt.Errorf("%w: ...") so errors.Is works across package boundaries.
var (
	// ErrAuthenticationFailed indicates a flow failed to obtain a token.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrProviderRejected indicates the provider returned an error status with a body.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrAuthTimeout indicates no terminal callback or device grant arrived in time.
	ErrAuthTimeout = errors.New("authentication timed out")
	// ErrInvalidCallback indicates a pasted or received callback URL could not be used.
	ErrInvalidCallback = errors.New("invalid callback")
	// ErrCredentialStore indicates a credential store read or write failed.
	ErrCredentialStore = errors.New("credential store error")
	// ErrRefreshFailed indicates a token refresh attempt failed.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrMissingClientCredentials indicates an IdC credential lacks client id/secret
	// and no registration record could be backfilled from the SSO cache.
	ErrMissingClientCredentials = errors.New("missing client credentials")
	// ErrInvalidFlowConfig indicates a flow was constructed with unusable settings.
	ErrInvalidFlowConfig = errors.New("invalid flow configuration")
)
