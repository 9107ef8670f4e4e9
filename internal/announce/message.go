package announce

import "fmt"

// Message renders the announcement text. Without a usable patient name it
// degrades to a generic phrase instead of failing.
func Message(ticketNumber, locationLabel, patientName string) string {
	if !usableName(patientName) {
		if locationLabel == "" {
			return fmt.Sprintf("Now serving ticket %s.", ticketNumber)
		}
		return fmt.Sprintf("Now serving ticket %s, please proceed to %s.", ticketNumber, locationLabel)
	}
	if locationLabel == "" {
		return fmt.Sprintf("Now serving ticket %s, %s.", ticketNumber, patientName)
	}
	return fmt.Sprintf("Now serving ticket %s, %s, please proceed to %s.", ticketNumber, patientName, locationLabel)
}

func usableName(name string) bool {
	switch name {
	case "", "Walk-in Patient", "Anonymous":
		return false
	default:
		return true
	}
}
