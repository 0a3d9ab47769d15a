package handlers

import (
	"net/http"

	"github.com/arbiterhq/arbiter/internal/service"
)

type StatusHandler struct {
	maintenance *service.MaintenanceService
}

func NewStatusHandler(maintenance *service.MaintenanceService) *StatusHandler {
	return &StatusHandler{maintenance: maintenance}
}

// Status reports the live state of the resolution subsystem: circuit states,
// cache and limiter occupancy, queue depth, dispute and feedback counters.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.maintenance.HealthStatus())
}

// RunMaintenance triggers one sweep outside the background schedule.
func (h *StatusHandler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.maintenance.RunOnce(r.Context()))
}
