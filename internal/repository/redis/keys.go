package redis

import "fmt"

const ns = "busline:v1"

func KeyBusSummary(busID int64) string {
	return fmt.Sprintf("%s:bus:%d:summary", ns, busID)
}

func KeyBusAvailability(busID int64) string {
	return fmt.Sprintf("%s:bus:%d:availability", ns, busID)
}

func KeyActiveBuses() string {
	return ns + ":buses:active"
}
