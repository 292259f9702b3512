package security

import "errors"

// ErrRunningAsRoot is returned by RequireNonRoot for effective UID 0.
var ErrRunningAsRoot = errors.New("refusing to serve media API credentials as root: run as a non-root user")

// effectiveUIDGetter reports -1 where the platform has no effective UID.
var effectiveUIDGetter = func() int { return -1 }

// EffectiveUIDGetter returns the platform effective-UID getter for RequireNonRoot.
func EffectiveUIDGetter() func() int {
	return effectiveUIDGetter
}

// RequireNonRoot guards serve: the process holds the partner secret and a
// session token, so it must not run with root privileges. A nil getter skips
// the check.
func RequireNonRoot(euid func() int) error {
	if euid != nil && euid() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}
