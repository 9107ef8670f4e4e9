package queue

import "github.com/thecoachmanuel/opd-qms-sub000/internal/models"

// transitionMap lists the statuses a target status may be entered from.
// serving appears in its own list: re-calling an entry that is already
// serving is legal and refreshes service_start_time.
var transitionMap = map[string][]string{
	models.StatusServing: {models.StatusWaiting, models.StatusServing},
	models.StatusDone:    {models.StatusServing},
	models.StatusNoShow:  {models.StatusServing},
}

func ValidTransition(fromStatus, targetStatus string) bool {
	allowed, ok := transitionMap[targetStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	return status == models.StatusDone || status == models.StatusNoShow
}
