// Package authority defines how the Auth Coordinator (4.D) consults an
// external decision-maker for connect/register/send/receive permission
// checks. busauthority forwards the check over the bus itself (the
// default, matching spec §6's "auth request over bus"); grpcauthority
// reaches an out-of-process authority service directly.
package authority

import "context"

// Authority decides whether a single auth-relevant frame is permitted.
// status is one of "ok" or "denied" (mirroring the bus reply contract in
// spec §6); metadata is attached to the cached result and surfaced back
// to hooks.
type Authority interface {
	Authorise(ctx context.Context, frame map[string]any) (status string, metadata map[string]any, err error)
}
