/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

// Notifier is told about every state change the presentation layer may want
// to render. Calls happen on the coordinator's goroutine; they must not block
// or call back into the Coordinator.
type Notifier interface {
	PhaseChanged(phase Phase)
	RosterChanged(players []Player)
	RoleAssigned(a Assignment)
	SessionFailed(err error)
}

// NopNotifier ignores everything. Embed it to implement only some methods.
type NopNotifier struct{}

func (NopNotifier) PhaseChanged(Phase)      {}
func (NopNotifier) RosterChanged([]Player)  {}
func (NopNotifier) RoleAssigned(Assignment) {}
func (NopNotifier) SessionFailed(error)     {}
