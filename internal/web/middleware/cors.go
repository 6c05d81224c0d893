package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS opens the public form endpoints to any origin. They are called from
// third-party sites and never read cookies.
func CORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(next)
}
