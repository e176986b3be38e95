package engine

import (
	"fmt"

	"chainjudge/internal/sandbox/security"
	"chainjudge/internal/sandbox/spec"
)

// initRequest is the JSON payload handed to the sandbox-init helper over
// stdin. Field names are part of the helper protocol.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}

func errUnknownProfile(profile string) error {
	return fmt.Errorf("unknown sandbox profile %q", profile)
}
