package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// seed
	"seed.initialized": {},

	// bridge
	"bridge.completed": {},
	"bridge.rejected":  {},

	// claim intake (mqtt)
	"claim.received": {},
	"claim.invalid":  {},

	// token primitive
	"mint.created":   {},
	"account.opened": {},

	// audit
	"audit.completed": {},
	"audit.mismatch":  {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
