// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"github.com/gin-gonic/gin"
)

// CustomerMiddleware extracts a best-effort customer id from the
// X-Tenant-ID header or a customerId query param and stores it in
// the gin context for logging and diagnostics. It does not enforce
// presence of the id: JOIN/LEAVE carry the authoritative customerId
// in their JSON body, and this middleware runs before that body is
// parsed.
func CustomerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.GetHeader("X-Tenant-ID")
		if customerID == "" {
			customerID = c.Query("customerId")
		}
		if customerID != "" {
			c.Set("customerId", customerID)
		}
		c.Next()
	}
}

// GetCustomerID retrieves the best-effort customer id set by
// CustomerMiddleware, if any.
func GetCustomerID(c *gin.Context) (string, bool) {
	v, exists := c.Get("customerId")
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
