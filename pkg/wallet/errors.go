package wallet

import (
	"errors"
	"fmt"
)

// Error kind sentinels, §7. An *Error built by Wrap or WrapDeficit holds
// exactly one of these as its Kind and returns it from Unwrap, so
// errors.Is matches it, much as other_examples' hdpay wraps
// config.ErrInsufficientUTXO/config.ErrDustOutput. Errors built with
// plain fmt.Errorf (e.g. in internal/amount) carry no sentinel.
var (
	ErrInvalidUTXOStructure = errors.New("INVALID_UTXO_STRUCTURE")
	ErrInsufficientFunds    = errors.New("INSUFFICIENT_FUNDS")
	ErrInsufficientToken    = errors.New("INSUFFICIENT_TOKEN")
	ErrInsufficientXEC      = errors.New("INSUFFICIENT_XEC")
	ErrDustOutput           = errors.New("DUST_OUTPUT")
	ErrPayloadTooLarge      = errors.New("PAYLOAD_TOO_LARGE")
	ErrUnknownProtocol      = errors.New("UNKNOWN_PROTOCOL")
	ErrWrongProtocolForTokn = errors.New("WRONG_PROTOCOL_FOR_TOKEN")
	ErrInvalidAddress       = errors.New("INVALID_ADDRESS")
	ErrInvalidKey           = errors.New("INVALID_KEY")
	ErrTooManyRecipients    = errors.New("TOO_MANY_RECIPIENTS")
	ErrNetworkTimeout       = errors.New("NETWORK_TIMEOUT")
	ErrConnectionRefused    = errors.New("CONNECTION_REFUSED")
	ErrServerUnavailable    = errors.New("SERVER_UNAVAILABLE")
	ErrServerIndexing       = errors.New("SERVER_INDEXING")
	ErrRateLimited          = errors.New("RATE_LIMITED")
	ErrProtocolError        = errors.New("PROTOCOL_ERROR")
	ErrCancelled            = errors.New("CANCELLED")
	ErrCacheStale           = errors.New("CACHE_STALE")
	ErrUnsupportedScript    = errors.New("UNSUPPORTED_SCRIPT")
)

// TokenDeficit carries a structured "need X, have Y" deficit. The token
// engine's input selection fills Need and Have with atom counts, not
// display units, and sets neither Ticker nor Decimals.
type TokenDeficit struct {
	TokenID  string
	Ticker   string
	Decimals int
	Need     string // display units
	Have     string // display units
}

// Error wraps one of the sentinels above with human-readable context and,
// for token-engine failures, a structured deficit.
type Error struct {
	Kind    error
	Message string
	Deficit *TokenDeficit
}

func (e *Error) Error() string {
	if e.Deficit != nil {
		return fmt.Sprintf("%s: %s (need %s %s, have %s %s)", e.Kind, e.Message,
			e.Deficit.Need, e.Deficit.Ticker, e.Deficit.Have, e.Deficit.Ticker)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// Wrap builds a *Error for the given sentinel kind.
func Wrap(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapDeficit builds a token-engine *Error carrying a structured deficit.
func WrapDeficit(kind error, deficit TokenDeficit, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Deficit: &deficit}
}
