package provider

import "fmt"

// ConfigurationError reports a request that cannot be served because of
// gateway configuration: an unknown provider or a model with no provider.
// It is fatal for the exchange and raised before any network call.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider configuration error: %s: %s", e.Provider, e.Reason)
}

// CredentialMissingError reports that no usable API key could be resolved
// for a provider. No network call is attempted.
type CredentialMissingError struct {
	Provider string
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("no usable API key for provider %s", e.Provider)
}

// AuthError is an upstream HTTP 401 on a non-streaming call. It carries the
// provider name and the raw diagnostic body and is propagated to the caller
// unmodified.
type AuthError struct {
	Provider string
	Message  string
	RawBody  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %s rejected credentials: %s", e.Provider, e.Message)
}
