// Package handler carries the engine's operation-level contract over HTTP
// for the external command/UI layer and report formatter. It does request
// parsing, JSON serialization and status mapping; no business logic.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"duty-tracker/internal/engine"
	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"
	"duty-tracker/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	deps   *Deps
	logger *logrus.Logger
}

// Deps bundles the services the HTTP surface fronts.
type Deps struct {
	Lifecycle *service.LifecycleService
	Quota     *service.QuotaEngine
	Admin     *service.AdminService
	Archival  *service.ArchivalService
	Watchdog  *service.WatchdogService
	Reports   *service.ReportService
	Quotas    repository.QuotaRepository
}

func NewHandler(deps *Deps) *Handler {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Handler{deps: deps, logger: logger}
}

// NewRouter wires all operations onto a chi router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/shifts", func(r chi.Router) {
		r.Post("/start", h.StartShift)
		r.Post("/pause", h.PauseShift)
		r.Post("/resume", h.ResumeShift)
		r.Post("/end", h.EndShift)
		r.Get("/active", h.GetActiveShift)
		r.Post("/clear", h.ClearShifts)
		r.Post("/{id}/time", h.ModifyShiftTime)
		r.Delete("/{id}", h.DeleteShift)
	})

	r.Get("/quota", h.GetQuotaInfo)
	r.Route("/quota/rules", func(r chi.Router) {
		r.Get("/", h.ListQuotaRules)
		r.Post("/", h.UpsertQuotaRule)
		r.Delete("/", h.DeleteQuotaRule)
	})
	r.Route("/quota/ignored-roles", func(r chi.Router) {
		r.Post("/", h.AddIgnoredRole)
		r.Delete("/", h.RemoveIgnoredRole)
	})

	r.Get("/workers/{workerID}/types", h.GetUserTypes)
	r.Get("/waves/{wave}/report", h.GetWaveReport)
	r.Get("/waves/{wave}/workers/{workerID}", h.GetWorkerWaveTotal)

	r.Post("/archival/run", h.RunWeeklyArchival)
	r.Post("/watchdog/check", h.CheckLongBreaks)

	return r
}

type shiftRequest struct {
	WorkerID string `json:"worker_id"`
	WorkType string `json:"work_type"`
}

type modifyRequest struct {
	AdminID string `json:"admin_id"`
	Action  string `json:"action"`
	Seconds int64  `json:"seconds"`
}

type clearRequest struct {
	Scope string `json:"scope"`
	Wave  int    `json:"wave"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrAlreadyActive), errors.Is(err, engine.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Unhandled error in HTTP handler")
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeShiftRequest(r *http.Request) (*shiftRequest, error) {
	var req shiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &engine.ValidationError{Reason: "invalid JSON body"}
	}
	if req.WorkerID == "" || req.WorkType == "" {
		return nil, &engine.ValidationError{Reason: "worker_id and work_type are required"}
	}
	return &req, nil
}

func (h *Handler) StartShift(w http.ResponseWriter, r *http.Request) {
	req, err := decodeShiftRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	shift, err := h.deps.Lifecycle.Start(req.WorkerID, req.WorkType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (h *Handler) PauseShift(w http.ResponseWriter, r *http.Request) {
	req, err := decodeShiftRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	shift, err := h.deps.Lifecycle.Pause(req.WorkerID, req.WorkType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) ResumeShift(w http.ResponseWriter, r *http.Request) {
	req, err := decodeShiftRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	shift, err := h.deps.Lifecycle.Resume(req.WorkerID, req.WorkType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) EndShift(w http.ResponseWriter, r *http.Request) {
	req, err := decodeShiftRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	shift, err := h.deps.Lifecycle.End(req.WorkerID, req.WorkType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) GetActiveShift(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	workType := r.URL.Query().Get("work_type")
	if workerID == "" || workType == "" {
		h.writeError(w, &engine.ValidationError{Reason: "worker_id and work_type are required"})
		return
	}

	shift, err := h.deps.Lifecycle.GetActive(workerID, workType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if shift == nil {
		h.writeError(w, engine.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) GetQuotaInfo(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	workType := r.URL.Query().Get("work_type")
	if workerID == "" || workType == "" {
		h.writeError(w, &engine.ValidationError{Reason: "worker_id and work_type are required"})
		return
	}

	info, err := h.deps.Quota.GetQuotaInfo(workerID, workType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) GetUserTypes(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	types, err := h.deps.Quota.GetUserTypes(workerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"worker_id": workerID, "work_types": types})
}

func (h *Handler) RunWeeklyArchival(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "1"

	result, err := h.deps.Archival.Run(time.Now(), dryRun)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CheckLongBreaks(w http.ResponseWriter, r *http.Request) {
	ended, err := h.deps.Watchdog.CheckLongBreaks()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ended": ended})
}

func (h *Handler) ModifyShiftTime(w http.ResponseWriter, r *http.Request) {
	shiftID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &engine.ValidationError{Reason: "invalid JSON body"})
		return
	}
	if req.AdminID == "" {
		h.writeError(w, &engine.ValidationError{Reason: "admin_id is required"})
		return
	}

	shift, err := h.deps.Admin.ModifyTime(req.AdminID, shiftID, req.Action, req.Seconds)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (h *Handler) DeleteShift(w http.ResponseWriter, r *http.Request) {
	shiftID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.deps.Admin.DeleteShift(shiftID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ClearShifts(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &engine.ValidationError{Reason: "invalid JSON body"})
		return
	}

	deleted, err := h.deps.Admin.ClearShifts(req.Scope, req.Wave)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) GetWaveReport(w http.ResponseWriter, r *http.Request) {
	wave, err := strconv.Atoi(chi.URLParam(r, "wave"))
	if err != nil || wave <= 0 {
		h.writeError(w, &engine.ValidationError{Reason: "wave must be a positive integer"})
		return
	}

	rows, err := h.deps.Reports.WaveReport(wave)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wave": wave, "rows": rows})
}

func (h *Handler) GetWorkerWaveTotal(w http.ResponseWriter, r *http.Request) {
	wave, err := strconv.Atoi(chi.URLParam(r, "wave"))
	if err != nil || wave <= 0 {
		h.writeError(w, &engine.ValidationError{Reason: "wave must be a positive integer"})
		return
	}
	workerID := chi.URLParam(r, "workerID")

	rows, err := h.deps.Reports.WorkerWaveTotal(wave, workerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"wave": wave, "worker_id": workerID, "rows": rows})
}

type roleRuleRequest struct {
	RoleID   string `json:"role_id"`
	WorkType string `json:"work_type"`
}

func decodeRoleRule(r *http.Request) (*roleRuleRequest, error) {
	var req roleRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &engine.ValidationError{Reason: "invalid JSON body"}
	}
	if req.RoleID == "" || req.WorkType == "" {
		return nil, &engine.ValidationError{Reason: "role_id and work_type are required"}
	}
	return &req, nil
}

func (h *Handler) ListQuotaRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.deps.Quotas.GetAllRules()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (h *Handler) UpsertQuotaRule(w http.ResponseWriter, r *http.Request) {
	var rule models.QuotaRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, &engine.ValidationError{Reason: "invalid JSON body"})
		return
	}

	if err := h.deps.Quotas.UpsertRule(&rule); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &rule)
}

func (h *Handler) DeleteQuotaRule(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoleRule(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.deps.Quotas.DeleteRule(req.RoleID, req.WorkType); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) AddIgnoredRole(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoleRule(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.deps.Quotas.AddIgnoredRole(req.RoleID, req.WorkType); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}

func (h *Handler) RemoveIgnoredRole(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRoleRule(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.deps.Quotas.RemoveIgnoredRole(req.RoleID, req.WorkType); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, &engine.ValidationError{Reason: "invalid shift id"}
	}
	return uint(id), nil
}
