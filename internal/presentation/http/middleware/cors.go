package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware provides the CORS configuration for the REST
// surface. Only the local development origins listed below are
// allowed; no customer storefront origins are configured.
func CORSMiddleware() gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:4321",
			"http://localhost:4320",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:4321",
			"http://127.0.0.1:4320",
			"http://[::1]:3000",
			"http://[::1]:4321",
			"http://[::1]:4320",
		},
		AllowMethods: []string{
			"GET", "POST", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			"X-Tenant-ID", "X-Leave-Id", "X-Requested-With",
		},
		AllowCredentials: true,
		ExposeHeaders: []string{
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
	}

	return cors.New(config)
}
