package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stanstork/aegis-api/internal/authz"
	"github.com/stanstork/aegis-api/internal/handlers"
	"github.com/stanstork/aegis-api/internal/models"
)

// NewRouter wires every HTTP endpoint.
func NewRouter(health *handlers.HealthHandler, auth *handlers.AuthHandler, targets *handlers.TargetHandler, erasures *handlers.ErasureHandler, audit *handlers.AuditHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", health.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoints
	router.HandleFunc("/api/signup", auth.SignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", auth.Login).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/verify/{token}", auth.Verify).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	api.HandleFunc("/targets/scan", targets.Scan).Methods(http.MethodPost)
	api.HandleFunc("/targets/records", targets.Records).Methods(http.MethodPost)

	api.HandleFunc("/erasures", erasures.Submit).Methods(http.MethodPost)
	api.HandleFunc("/erasures", erasures.List).Methods(http.MethodGet)
	api.HandleFunc("/erasures/{id}", erasures.Get).Methods(http.MethodGet)
	api.HandleFunc("/erasures/{id}/download", erasures.Download).Methods(http.MethodGet)

	api.HandleFunc("/audit-logs", audit.List).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authz.RequireRole(models.RoleSuperAdmin))
	admin.HandleFunc("/audit-logs", audit.AdminList).Methods(http.MethodGet)
	admin.HandleFunc("/metrics", audit.AdminMetrics).Methods(http.MethodGet)

	return router
}
