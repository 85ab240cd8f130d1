package billing

import "errors"

// Error taxonomy for the entitlement flow. Controllers map these onto HTTP
// statuses; handlers report them in processing results instead of failing
// the webhook acknowledgement.
var (
	// ErrUnauthorized marks a bad or missing webhook signature.
	ErrUnauthorized = errors.New("invalid webhook signature")
	// ErrNotFound marks a referenced user/subscription/license that is absent
	// when a handler requires it.
	ErrNotFound = errors.New("referenced record not found")
	// ErrConflict marks a duplicate unique key on create.
	ErrConflict = errors.New("record already exists")
	// ErrRateLimited marks a quota-exceeded usage check.
	ErrRateLimited = errors.New("daily quota exceeded")
	// ErrSystem marks unexpected persistence or transport failures.
	ErrSystem = errors.New("internal error")
)
