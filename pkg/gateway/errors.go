package gateway

import "errors"

// Kind buckets a provider failure into the retry policy it drives.
type Kind int

const (
	// KindRetryable covers timeouts, connection failures and 5xx responses.
	KindRetryable Kind = iota
	// KindRateLimited is a provider 429; pauses the owning channel.
	KindRateLimited
	// KindUnauthorized is a provider 401; the channel needs reauth.
	KindUnauthorized
	// KindTerminal covers non-retryable 4xx responses and bad requests.
	KindTerminal
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies any error from this package. Unknown errors are treated
// as retryable so a transient glitch never permanently fails an entry.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindRetryable
}

func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindRetryable || k == KindRateLimited
}
