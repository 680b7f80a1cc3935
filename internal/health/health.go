package health

import (
	"context"
	"net/http"
	"time"

	"hostinv/internal/apperr"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// RegisterRoutes — только /healthz (процесс жив).
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// RegisterRoutesWithDB — /healthz и /readyz, который пингует БД.
func RegisterRoutesWithDB(r *mux.Router, d *gorm.DB) {
	RegisterRoutes(r)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := ping(req.Context(), d); err != nil {
			apperr.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)
}

func ping(ctx context.Context, d *gorm.DB) error {
	sqlDB, err := d.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
