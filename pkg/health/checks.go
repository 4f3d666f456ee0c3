package health

import (
	"context"
	"fmt"
)

// PingCheck adapts a ping function into a Check. A failing optional
// dependency degrades the report instead of taking it down.
func PingCheck(ping func(ctx context.Context) error, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDown
			if optional {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// VersionCheck reports down until version returns a committed index version.
func VersionCheck(version func() int64) Check {
	return func(ctx context.Context) ComponentHealth {
		v := version()
		if v <= 0 {
			return ComponentHealth{Status: StatusDown, Message: "no committed index version"}
		}
		return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("serving version %d", v)}
	}
}
