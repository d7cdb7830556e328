// Package constants defines system-wide constants for the MUSAP signature client.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode is the stable numeric error code returned to integrators.
type ErrorCode int

const (
	// ErrCodeWrongParam indicates a parameter has an invalid value
	ErrCodeWrongParam ErrorCode = 101

	// ErrCodeMissingParam indicates a required parameter is absent
	ErrCodeMissingParam ErrorCode = 102

	// ErrCodeInvalidAlgorithm indicates an invalid or unsupported algorithm
	ErrCodeInvalidAlgorithm ErrorCode = 103

	// ErrCodeUnknownKey indicates the referenced key does not exist
	ErrCodeUnknownKey ErrorCode = 105

	// ErrCodeKeyAlreadyExists indicates a key with the same alias is already stored
	ErrCodeKeyAlreadyExists ErrorCode = 106

	// ErrCodeUnsupportedData indicates the data or operation is not supported
	ErrCodeUnsupportedData ErrorCode = 107

	// ErrCodeKeygenUnsupported indicates the SSCD cannot generate keys
	ErrCodeKeygenUnsupported ErrorCode = 108

	// ErrCodeBindUnsupported indicates the SSCD cannot bind existing keys
	ErrCodeBindUnsupported ErrorCode = 109

	// ErrCodeTimedOut indicates the operation timed out
	ErrCodeTimedOut ErrorCode = 208

	// ErrCodeUserCancel indicates the user cancelled the operation
	ErrCodeUserCancel ErrorCode = 401

	// ErrCodeKeyBlocked indicates the key is blocked
	ErrCodeKeyBlocked ErrorCode = 402

	// ErrCodeSscdBlocked indicates the SSCD is blocked
	ErrCodeSscdBlocked ErrorCode = 403

	// ErrCodeSscdAlreadyExists indicates an SSCD with the same identity is already known
	ErrCodeSscdAlreadyExists ErrorCode = 404

	// ErrCodeInternal is the catch-all internal error
	ErrCodeInternal ErrorCode = 900

	// ErrCodeIllegalArgument shares the internal error code
	ErrCodeIllegalArgument ErrorCode = 900
)

// ================================================================================
// Link Message Type Constants
// ================================================================================

// MessageType is the type tag of a MUSAP Link wire message.
type MessageType string

const (
	// MessageTypeEnroll registers a MUSAP instance with the Link service
	MessageTypeEnroll MessageType = "enrolldata"

	// MessageTypeLinkAccount couples a relying party with a coupling code
	MessageTypeLinkAccount MessageType = "linkaccount"

	// MessageTypePoll fetches pending signature requests
	MessageTypePoll MessageType = "getdata"

	// MessageTypeExternalSignature requests a signature from an external SSCD
	MessageTypeExternalSignature MessageType = "externalsignature"

	// MessageTypeSignatureCallback reports a signature result to the relying party
	MessageTypeSignatureCallback MessageType = "signaturecallback"

	// MessageTypeGenerateKeyCallback reports a key generation result to the relying party
	MessageTypeGenerateKeyCallback MessageType = "generatekeycallback"
)

// RequiresEncryption reports whether payloads of this type travel inside the
// encrypted and authenticated envelope.
func (t MessageType) RequiresEncryption() bool {
	return t != MessageTypeEnroll
}

// ================================================================================
// Link Response Status Constants
// ================================================================================

// ResponseStatus is the terminal or intermediate status of a Link response.
type ResponseStatus string

const (
	// StatusSuccess indicates the request completed successfully
	StatusSuccess ResponseStatus = "success"

	// StatusPending indicates the result is not yet available
	StatusPending ResponseStatus = "pending"

	// StatusFailed indicates the request failed
	StatusFailed ResponseStatus = "failed"
)

// ================================================================================
// Signature Request Mode Constants
// ================================================================================

// RequestMode selects what a polled signature request asks the device to do.
type RequestMode string

const (
	// ModeSign signs with an existing key
	ModeSign RequestMode = "sign"

	// ModeGenerateSign generates a key and signs with it
	ModeGenerateSign RequestMode = "generate-sign"

	// ModeGenerateOnly only generates a key
	ModeGenerateOnly RequestMode = "generate-only"
)

// ================================================================================
// Link Protocol Defaults
// ================================================================================

const (
	// DefaultPollAttempts is the number of re-poll attempts for a pending signature
	DefaultPollAttempts = 10

	// DefaultPollInterval is the base re-poll interval, multiplied by the attempt index
	DefaultPollInterval = 2 * time.Second

	// DefaultLinkTimeout is the HTTP timeout for a single Link round-trip
	DefaultLinkTimeout = 30 * time.Second

	// EnrollmentSecretLength is the size in bytes of the random enrollment secret
	EnrollmentSecretLength = 16

	// MacKeyLength is the size in bytes of the derived MAC key
	MacKeyLength = 32

	// TransportKeyLength is the default size in bytes of the derived transport key
	TransportKeyLength = 16

	// IVLength is the AES block size used for CBC initialisation vectors
	IVLength = 16
)

// ================================================================================
// Storage Key Constants
// ================================================================================

const (
	// StoreKeyAliases holds the set of known key aliases
	StoreKeyAliases = "keynames"

	// StoreKeySscdIDs holds the set of known SSCD ids
	StoreKeySscdIDs = "sscds"

	// StoreKeyPrefix prefixes one JSON blob per key, keyed by alias
	StoreKeyPrefix = "key_"

	// StoreSscdPrefix prefixes one JSON blob per SSCD, keyed by id
	StoreSscdPrefix = "sscd_"

	// StoreMusapID holds the Link-assigned MUSAP id
	StoreMusapID = "musapid"

	// StoreLink holds the serialized Link session
	StoreLink = "musaplink"

	// StoreRelyingParties holds the serialized relying party list
	StoreRelyingParties = "relyingparties"

	// StoreMacKey holds the derived HMAC key
	StoreMacKey = "mac"

	// StoreTransportKey holds the derived transport encryption key
	StoreTransportKey = "transport"
)

// ================================================================================
// Key Event Type Constants
// ================================================================================

// KeyEventType identifies a key lifecycle event.
type KeyEventType string

const (
	KeyEventGenerated KeyEventType = "key.generated"
	KeyEventBound     KeyEventType = "key.bound"
	KeyEventSigned    KeyEventType = "key.signed"
	KeyEventRemoved   KeyEventType = "key.removed"
	KeyEventUpdated   KeyEventType = "key.updated"
)

// ================================================================================
// Log Level Constants
// ================================================================================

// LogLevel represents the severity level of log messages
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ================================================================================
// Context Key Constants
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyTransactionID is the key for the Link transaction id in context
	ContextKeyTransactionID ContextKey = "transaction_id"

	// ContextKeyLogger is the key for a request-scoped logger in context
	ContextKeyLogger ContextKey = "logger"
)

// ServiceName is the name reported to tracing and metrics backends
const ServiceName = "musap"
