package api

import (
	"net/http"

	"github.com/raum-tracker/occupancy/internal/db"
	"github.com/raum-tracker/occupancy/internal/httputil"
)

// deviceHandler is a handler that runs on behalf of an authenticated device.
type deviceHandler func(http.ResponseWriter, *http.Request, *db.Device)

// withDevice authenticates the X-API-Key header against the device table and
// passes the resolved device to the handler. Unknown and missing keys both
// get a 401; the error body does not distinguish them.
func (s *Server) withDevice(next deviceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			httputil.Unauthorized(w, "API key required")
			return
		}

		device, err := s.db.GetDeviceByAPIKey(key)
		if err != nil {
			httputil.InternalServerError(w, "authentication failed")
			return
		}
		if device == nil {
			httputil.Unauthorized(w, "API key required")
			return
		}

		next(w, r, device)
	}
}
