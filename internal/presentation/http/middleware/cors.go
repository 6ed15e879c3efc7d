package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// defaultOrigins are the local development origins allowed when none are
// configured.
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:4321",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:4321",
	"http://127.0.0.1:5173",
	"http://[::1]:3000", // IPv6 localhost
	"http://[::1]:4321", // IPv6 localhost
}

// CORSMiddleware allows origins, or the local development origins when
// origins is empty. A single "*" allows every origin without credentials.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Requested-With", "X-Request-ID",
			"Cache-Control",
		},
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "Connection", "X-Request-ID",
		},
	}
	switch {
	case len(origins) == 1 && origins[0] == "*":
		config.AllowAllOrigins = true
	case len(origins) == 0:
		config.AllowOrigins = defaultOrigins
		config.AllowCredentials = true
	default:
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}
