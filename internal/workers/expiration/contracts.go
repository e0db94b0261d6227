package expiration

import "context"

type (
	// Policy releases pending orders that ran out of time or attempts
	Policy interface {
		ReleaseStale(ctx context.Context) (int, error)
	}
)
