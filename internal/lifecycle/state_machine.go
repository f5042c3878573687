package lifecycle

import "platformd/backend/internal/models"

// Trigger is the operation proposing a status change.
type Trigger string

const (
	TriggerDeploy       Trigger = "deploy"
	TriggerPoll         Trigger = "poll"
	TriggerDecommission Trigger = "decommission"
)

// CanTransition reports whether trigger may move a state from one status to another. Only
// decommission reaches offline, and an offline platform only leaves it through a deploy.
func CanTransition(from, to string, trigger Trigger) bool {
	if from == "" {
		from = models.StatusUnknown
	}
	switch trigger {
	case TriggerDecommission:
		return to == models.StatusOffline
	case TriggerDeploy:
		return to == models.StatusPending || to == from
	case TriggerPoll:
		return from != models.StatusOffline && to != models.StatusOffline && to != models.StatusUnknown
	default:
		return false
	}
}

// deployedStatus is the status a state takes after a successful apply.
func deployedStatus(current string) string {
	switch current {
	case "", models.StatusUnknown, models.StatusOffline, models.StatusError:
		return models.StatusPending
	default:
		return current
	}
}
