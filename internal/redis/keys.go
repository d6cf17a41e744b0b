package redisx

import "fmt"

const ns = "seatlease:v1"

func KeyTenantPolicy(tenantID string) string {
	return fmt.Sprintf("%s:tenant:%s:policy", ns, tenantID)
}

func KeyHolderSeats(tenantID string, functionID int64, holder string) string {
	return fmt.Sprintf("%s:tenant:%s:fn:%d:holder:%s:seats", ns, tenantID, functionID, holder)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelLockEvents() string {
	return ns + ":locks:changed"
}
