package redisx

import "fmt"

const ns = "busline:v1"

func ChannelBusLocation(busID int64) string {
	return fmt.Sprintf("%s:bus:%d:location", ns, busID)
}

func ChannelBusLocationPattern() string {
	return ns + ":bus:*:location"
}
