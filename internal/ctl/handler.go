package ctl

import "fmt"

// Filter is the subset of *anc.Filter the control handler needs.
type Filter interface {
	PacketCount() uint64
	GatedCount() uint64
	IsConverged() bool
	Reset()
}

// NewHandler builds a CommandHandler understanding two commands:
//
//   - "status" — reports processed/gated chunk counts and convergence.
//   - "reset"  — zeroes the filter's adaptive state.
//
// Any other input returns an error line rather than closing the connection,
// so a misbehaving client can retry without reconnecting.
func NewHandler(filter Filter) CommandHandler {
	return func(command string) string {
		switch command {
		case "status":
			return fmt.Sprintf("processed=%d gated=%d converged=%t",
				filter.PacketCount(), filter.GatedCount(), filter.IsConverged())
		case "reset":
			filter.Reset()
			return "ok"
		default:
			return fmt.Sprintf("error: unknown command %q", command)
		}
	}
}
