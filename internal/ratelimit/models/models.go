package models

import (
	"strings"
	"time"
)

// Class groups endpoints that share a quota.
type Class string

const (
	// ClassSensitive covers signature verification and key release, where a
	// caller probing signatures or tickets must be slowed down.
	ClassSensitive Class = "sensitive"
	ClassStandard  Class = "standard"
	// ClassExempt is never limited. Status polling stays unthrottled so
	// clients can poll at their own cadence.
	ClassExempt Class = "exempt"
)

// Limit is a quota of Requests per sliding Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// Key builds the bucket key for a caller and class. Delimiters in the
// caller segment are escaped so one caller cannot address another's bucket.
func Key(class Class, caller string) string {
	return "ratelimit:" + string(class) + ":" + strings.ReplaceAll(caller, ":", "_")
}
