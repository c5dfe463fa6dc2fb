package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows any origin, matching the public chat API.
var CORS func(http.Handler) http.Handler = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders: []string{"Accept", "Content-Type", "X-Session-ID", "X-Request-Id"},
	MaxAge:         300,
})
