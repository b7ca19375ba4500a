// Package errors provides the client's structured error taxonomy.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// CodeAuth marks an invalid or expired credential, at connect time or on
	// an API call. Never retried automatically; forces re-login.
	CodeAuth Code = "AUTH"

	// CodeTransport marks an unreachable or dropped connection. Recovered
	// locally by the reconnect loop, surfaced to the UI only as status.
	CodeTransport Code = "TRANSPORT"

	// CodeSendFailure marks a single outbound message that could not be
	// delivered. The affected message is marked failed; retry is user driven.
	CodeSendFailure Code = "SEND_FAILURE"

	// CodeLoad marks a failed history or membership fetch. Surfaced as a
	// section-level error; reload is user driven.
	CodeLoad Code = "LOAD"

	// CodeAuthorization marks a membership mutation rejected for missing
	// privilege or an invalid target. No local state is mutated.
	CodeAuthorization Code = "AUTHORIZATION"
)
