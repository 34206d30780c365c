package tool

import (
	"errors"
	"strings"

	"shellherd/internal/domain"
)

// transientSentinels are domain errors that clear on their own: a wait can
// find the command finished on the next poll, and concurrency or rate limits
// open up again as other commands finish.
var transientSentinels = []error{
	domain.ErrWaitTimeout,
	domain.ErrTooManyCommands,
	domain.ErrRateLimit,
}

// transientFragments match transient failures that surface as bare strings,
// chiefly EAGAIN-style spawn errors from the OS. Compared case-insensitively
// against the full error message.
var transientFragments = []string{
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"try again",
}

// isTransientToolError reports whether retrying the failed tool call could
// plausibly succeed. Anything it does not recognize is treated as permanent.
func isTransientToolError(err error) bool {
	if err == nil {
		return false
	}
	return matchesTransientSentinel(err) || matchesTransientFragment(err.Error())
}

func matchesTransientSentinel(err error) bool {
	for _, s := range transientSentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func matchesTransientFragment(msg string) bool {
	msg = strings.ToLower(msg)
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
