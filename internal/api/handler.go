// Package api serves a read-mostly HTTP view of the local runtime.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrNotFound is matched with errors.Is on store errors to answer 404.
var ErrNotFound = errors.New("not found")

type Store interface {
	Functions(ctx context.Context) ([]domain.Function, error)
	ListExecutions(ctx context.Context, function string, limit, offset int) ([]domain.Execution, error)
}

type RuleSource interface {
	Rules(ctx context.Context) ([]domain.Rule, error)
}

// AlarmStates reports the monitor's view of each function's alarm.
type AlarmStates interface {
	State(function string) (domain.AlarmState, bool)
}

// Invoker runs a function once outside its schedule.
type Invoker interface {
	Execute(ctx context.Context, event domain.TriggerEvent) (domain.Execution, error)
}

// HealthChecker provides dependency health for the verbose /health response.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type Handler struct {
	store    Store
	rules    RuleSource
	alarms   AlarmStates
	invoker  Invoker // optional, nil = invoke disabled
	checks   map[string]HealthChecker
	notFound error
}

// NewHandler returns a handler. notFound is the store's not-found sentinel.
func NewHandler(store Store, rules RuleSource, alarms AlarmStates, notFound error) *Handler {
	return &Handler{
		store:    store,
		rules:    rules,
		alarms:   alarms,
		checks:   make(map[string]HealthChecker),
		notFound: notFound,
	}
}

// WithInvoker enables POST /functions/{name}/invoke.
func (h *Handler) WithInvoker(inv Invoker) *Handler {
	h.invoker = inv
	return h
}

// WithHealthChecker adds a named component to verbose /health responses.
func (h *Handler) WithHealthChecker(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/functions" && r.Method == http.MethodGet:
		h.listFunctions(w, r)

	case strings.HasSuffix(path, "/executions") && r.Method == http.MethodGet:
		h.listExecutions(w, r)

	case strings.HasSuffix(path, "/invoke") && r.Method == http.MethodPost:
		h.invoke(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) listFunctions(w http.ResponseWriter, r *http.Request) {
	fns, err := h.store.Functions(r.Context())
	if err != nil {
		log.Error().Str("component", "api").Err(err).Msg("list functions")
		writeError(w, http.StatusInternalServerError, "failed to list functions")
		return
	}
	rules, err := h.rules.Rules(r.Context())
	if err != nil {
		log.Error().Str("component", "api").Err(err).Msg("list rules")
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	schedules := make(map[string]string, len(rules))
	for _, rule := range rules {
		schedules[rule.Target] = rule.Expression
	}

	resp := ListFunctionsResponse{Functions: make([]FunctionResponse, len(fns))}
	for i, fn := range fns {
		state, _ := h.alarms.State(fn.Name)
		resp.Functions[i] = FunctionResponse{
			Name:           fn.Name,
			Job:            fn.Job,
			Schedule:       schedules[fn.Name],
			TimeoutSeconds: int(fn.Timeout / time.Second),
			AlarmState:     string(state),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	name, ok := functionFromPath(r.URL.Path, "executions")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executions, err := h.store.ListExecutions(r.Context(), name, limit, offset)
	if err != nil {
		if h.notFound != nil && errors.Is(err, h.notFound) {
			writeError(w, http.StatusNotFound, "function not found")
			return
		}
		log.Error().Str("component", "api").Err(err).Msg("list executions")
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(executions))}
	for i, exec := range executions {
		resp.Executions[i] = toExecutionResponse(exec)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	if h.invoker == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name, ok := functionFromPath(r.URL.Path, "invoke")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	now := time.Now().UTC()
	exec, err := h.invoker.Execute(r.Context(), domain.TriggerEvent{
		ExecutionID: uuid.New(),
		Rule:        "manual",
		Function:    name,
		ScheduledAt: now,
		FiredAt:     now,
	})
	if err != nil && exec.ID == uuid.Nil {
		if h.notFound != nil && errors.Is(err, h.notFound) {
			writeError(w, http.StatusNotFound, "function not found")
			return
		}
		log.Error().Str("component", "api").Str("function", name).Err(err).Msg("invoke")
		writeError(w, http.StatusInternalServerError, "failed to invoke function")
		return
	}
	if err != nil {
		log.Warn().Str("component", "api").Str("function", name).Err(err).Msg("invoke bookkeeping failed")
	}

	writeJSON(w, http.StatusOK, toExecutionResponse(exec))
}

// functionFromPath extracts the name from /functions/{name}/{action}.
func functionFromPath(path, action string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "functions" || parts[2] != action || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Str("component", "api").Err(err).Msg("json encode")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
