package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrClassification ErrorType = iota
	ErrProvider
	ErrRemoteJobFailed
	ErrRemoteJobExpired
	ErrPollTimeout
	ErrNotReady
	ErrInvalidSelection
	ErrUnsupportedLink
	ErrResolution
	ErrDownloadFailed
)

// ProviderErrorKind refines ErrProvider errors
type ProviderErrorKind int

const (
	ProviderKindNone ProviderErrorKind = iota
	ProviderAuth
	ProviderQuota
	ProviderUnsupported
	ProviderTransient
)

// String returns the string representation of ProviderErrorKind
func (k ProviderErrorKind) String() string {
	switch k {
	case ProviderAuth:
		return "auth"
	case ProviderQuota:
		return "quota"
	case ProviderUnsupported:
		return "unsupported"
	case ProviderTransient:
		return "transient"
	default:
		return "none"
	}
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// ResolveError is the single error type produced by the resolution engine
type ResolveError struct {
	Type       ErrorType              `json:"type"`
	Kind       ProviderErrorKind      `json:"kind,omitempty"`
	Provider   ProviderName           `json:"provider,omitempty"`
	Code       int                    `json:"code,omitempty"` // HTTP status or provider error code
	Message    string                 `json:"message"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"` // seconds
	Context    map[string]interface{} `json:"context,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ResolveError) Error() string {
	var parts []string

	head := e.Type.String()
	if e.Type == ErrProvider && e.Kind != ProviderKindNone {
		head = fmt.Sprintf("%s/%s", head, e.Kind)
	}
	if e.Provider != "" {
		head = fmt.Sprintf("%s [%s]", head, e.Provider)
	}
	parts = append(parts, head)

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap exposes the wrapped cause
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// DetailedError returns a detailed error message with all available information
func (e *ResolveError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("Provider: %s", e.Provider.DisplayName()))
	}
	if e.Kind != ProviderKindNone {
		parts = append(parts, fmt.Sprintf("Kind: %s", e.Kind))
	}
	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Err))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	if e.RetryAfter > 0 {
		parts = append(parts, fmt.Sprintf("Retry after: %d seconds", e.RetryAfter))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrClassification:
		return "Classification"
	case ErrProvider:
		return "Provider"
	case ErrRemoteJobFailed:
		return "RemoteJobFailed"
	case ErrRemoteJobExpired:
		return "RemoteJobExpired"
	case ErrPollTimeout:
		return "PollTimeout"
	case ErrNotReady:
		return "NotReady"
	case ErrInvalidSelection:
		return "InvalidSelection"
	case ErrUnsupportedLink:
		return "UnsupportedLink"
	case ErrResolution:
		return "Resolution"
	case ErrDownloadFailed:
		return "DownloadFailed"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewResolveError creates a new ResolveError with default severity and suggestion
func NewResolveError(errorType ErrorType, message string) *ResolveError {
	return &ResolveError{
		Type:       errorType,
		Message:    message,
		Severity:   getDefaultSeverity(errorType, ProviderKindNone),
		Suggestion: getDefaultSuggestion(errorType, ProviderKindNone),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *ResolveError) WithSuggestion(suggestion string) *ResolveError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *ResolveError) WithURL(url string) *ResolveError {
	e.URL = url
	return e
}

// WithRetryAfter sets the retry delay for rate limit errors
func (e *ResolveError) WithRetryAfter(seconds int) *ResolveError {
	e.RetryAfter = seconds
	return e
}

// WithCode records the HTTP status or provider error code
func (e *ResolveError) WithCode(code int) *ResolveError {
	e.Code = code
	return e
}

// WithCause wraps an underlying error
func (e *ResolveError) WithCause(err error) *ResolveError {
	e.Err = err
	return e
}

// WithContext adds context information to the error
func (e *ResolveError) WithContext(key string, value interface{}) *ResolveError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true for transient provider failures
func (e *ResolveError) IsRetryable() bool {
	return e.Type == ErrProvider && e.Kind == ProviderTransient
}

// IsCritical returns true if the error is critical and should stop execution
func (e *ResolveError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// FallsThrough reports whether the resolver should try the next candidate provider
func (e *ResolveError) FallsThrough() bool {
	switch e.Type {
	case ErrProvider, ErrRemoteJobFailed, ErrRemoteJobExpired, ErrPollTimeout:
		return true
	default:
		return false
	}
}

// IsErrorType reports whether any ResolveError in err's tree has type t.
// Joined errors are searched branch by branch.
func IsErrorType(err error, t ErrorType) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *ResolveError:
		return e.Type == t || IsErrorType(e.Err, t)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsErrorType(inner, t) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsErrorType(e.Unwrap(), t)
	default:
		return false
	}
}

// ProviderKindOf returns the provider error kind carried by err, or ProviderKindNone
func ProviderKindOf(err error) ProviderErrorKind {
	var re *ResolveError
	if errors.As(err, &re) && re.Type == ErrProvider {
		return re.Kind
	}
	return ProviderKindNone
}

// IsRetryable reports whether err is a transient provider error
func IsRetryable(err error) bool {
	var re *ResolveError
	return errors.As(err, &re) && re.IsRetryable()
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func getDefaultSuggestion(errorType ErrorType, kind ProviderErrorKind) string {
	switch errorType {
	case ErrClassification:
		return "Provide a magnet link, a hoster/MEGA/direct URL, or a path to a .torrent or .nzb file"
	case ErrProvider:
		switch kind {
		case ProviderAuth:
			return "Check the API token for this service in your environment or .env file"
		case ProviderQuota:
			return "The service quota or rate limit was reached. Try again later or use another provider"
		case ProviderUnsupported:
			return "This service cannot handle the link. Try another provider with --provider"
		case ProviderTransient:
			return "The service is temporarily unavailable. Please try again later"
		}
		return "Please check the error details and try again"
	case ErrRemoteJobFailed:
		return "The service could not fetch this content. Try another provider"
	case ErrRemoteJobExpired:
		return "The remote job expired. Submit the link again"
	case ErrPollTimeout:
		return "The service did not finish in time. Increase --poll-timeout or retry later"
	case ErrNotReady:
		return "Wait for the remote job to finish before listing files"
	case ErrInvalidSelection:
		return "Use comma separated numbers or ranges such as 1,3-5, or 'all'"
	case ErrUnsupportedLink:
		return "Configure an API token for a service that supports this link type"
	case ErrResolution:
		return "Every configured service failed. Check the attempts listed above"
	case ErrDownloadFailed:
		return "Download failed. Check available disk space and network connection"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType, kind ProviderErrorKind) ErrorSeverity {
	switch errorType {
	case ErrPollTimeout, ErrRemoteJobExpired:
		return SeverityWarning
	case ErrProvider:
		switch kind {
		case ProviderTransient, ProviderUnsupported:
			return SeverityWarning
		case ProviderAuth, ProviderQuota:
			return SeverityError
		}
		return SeverityError
	case ErrResolution, ErrUnsupportedLink:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts sensitive information from URLs
func redactSensitiveURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i] + url[i:i+1] + "[REDACTED]"
	}
	return url
}

// Common error constructors for frequently used errors

// NewClassificationError is returned when an input matches no known link shape
func NewClassificationError(raw, reason string) *ResolveError {
	return NewResolveError(ErrClassification, fmt.Sprintf("cannot classify %q: %s", redactSensitiveURL(raw), reason))
}

// NewProviderError creates a provider error of the given kind
func NewProviderError(provider ProviderName, kind ProviderErrorKind, message string) *ResolveError {
	return &ResolveError{
		Type:       ErrProvider,
		Kind:       kind,
		Provider:   provider,
		Message:    message,
		Severity:   getDefaultSeverity(ErrProvider, kind),
		Suggestion: getDefaultSuggestion(ErrProvider, kind),
		Context:    make(map[string]interface{}),
	}
}

// NewProviderStatusError maps an HTTP status from a provider API to a provider error kind
func NewProviderStatusError(provider ProviderName, status int, message string) *ResolveError {
	kind := ProviderUnsupported
	switch {
	case status == 401 || status == 403:
		kind = ProviderAuth
	case status == 402 || status == 429:
		kind = ProviderQuota
	case status >= 500 || status == 408:
		kind = ProviderTransient
	}
	return NewProviderError(provider, kind, message).WithCode(status)
}

// NewRemoteJobFailedError is returned when the provider reports a job error
func NewRemoteJobFailedError(job *RemoteJob, message string) *ResolveError {
	return NewResolveError(ErrRemoteJobFailed, message).
		withJob(job)
}

// NewRemoteJobExpiredError is returned when a provider discards a job
func NewRemoteJobExpiredError(job *RemoteJob, message string) *ResolveError {
	return NewResolveError(ErrRemoteJobExpired, message).
		withJob(job)
}

// NewPollTimeoutError is returned when the poll budget is exhausted before ready
func NewPollTimeoutError(job *RemoteJob, polls int) *ResolveError {
	msg := fmt.Sprintf("job %s not ready after %d polls (status %s, stage %s)", job.RemoteID, polls, job.Status, job.Stage)
	return NewResolveError(ErrPollTimeout, msg).
		withJob(job).
		WithContext("polls", polls)
}

// NewNotReadyError is returned by ListFiles before a job is ready
func NewNotReadyError(job *RemoteJob) *ResolveError {
	return NewResolveError(ErrNotReady, fmt.Sprintf("job %s is %s", job.RemoteID, job.Status)).
		withJob(job)
}

// NewInvalidSelectionError reports a bad file selection token
func NewInvalidSelectionError(token, reason string) *ResolveError {
	return NewResolveError(ErrInvalidSelection, fmt.Sprintf("invalid selection %q: %s", token, reason)).
		WithContext("token", token)
}

// NewUnsupportedLinkError reports that no configured provider can handle the link
func NewUnsupportedLinkError(link Link, reason string) *ResolveError {
	return NewResolveError(ErrUnsupportedLink, fmt.Sprintf("%s link: %s", link.Kind, reason)).
		WithURL(link.Raw)
}

// NewResolutionError aggregates every failed attempt for a link
func NewResolutionError(link Link, attempts []error) *ResolveError {
	err := NewResolveError(ErrResolution, fmt.Sprintf("could not resolve %s link", link.Kind)).
		WithURL(link.Raw).
		WithContext("attempts", len(attempts))
	if len(attempts) > 0 {
		err.Err = errors.Join(attempts...)
	}
	return err
}

func (e *ResolveError) withJob(job *RemoteJob) *ResolveError {
	if job == nil {
		return e
	}
	e.Provider = job.Provider
	e.Context["remote_id"] = job.RemoteID
	e.Context["job_id"] = job.ID
	return e
}
