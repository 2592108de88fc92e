package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/polyroute/polyroute/internal/catalog"
	"github.com/polyroute/polyroute/internal/ddl"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/internal/frequency"
	"github.com/polyroute/polyroute/internal/metrics"
	"github.com/polyroute/polyroute/internal/partition"
	"github.com/polyroute/polyroute/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// FrequencySource exposes the access statistics of partitions.
type FrequencySource interface {
	LastPlan(tableID int64) (*frequency.Plan, bool)
	Totals(partitionID int64) (reads, writes int64)
}

// Handler serves the admin API.
type Handler struct {
	catalog   catalog.Reader
	factory   *partition.Factory
	router    *partition.Router
	frequency FrequencySource
	ddl       *ddl.Manager
	logger    *zap.Logger
	mux       *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithFrequency enables the frequency endpoint.
func WithFrequency(src FrequencySource) Option {
	return func(h *Handler) { h.frequency = src }
}

// WithLogger sets the handler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates the admin API handler with its middleware chain.
func NewHandler(reader catalog.Reader, factory *partition.Factory, router *partition.Router, opts ...Option) http.Handler {
	h := &Handler{
		catalog: reader,
		factory: factory,
		router:  router,
		logger:  zap.NewNop(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	h.mux.HandleFunc("GET /healthz", h.health)
	h.mux.HandleFunc("GET /v1/partition-functions", h.listFunctions)
	h.mux.HandleFunc("GET /v1/partition-functions/{type}", h.getFunction)
	h.mux.HandleFunc("GET /v1/tables", h.listTables)
	h.mux.HandleFunc("GET /v1/tables/{id}", h.getTable)
	h.mux.HandleFunc("GET /v1/tables/{id}/distribution", h.distribution)
	h.mux.HandleFunc("POST /v1/tables/{id}/route", h.route)
	h.mux.HandleFunc("POST /v1/tables/{id}/scan", h.scan)
	h.mux.HandleFunc("POST /v1/tables/{id}/probe", h.probe)
	h.mux.HandleFunc("GET /v1/tables/{id}/frequency", h.frequencyStats)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	h.registerDDLRoutes()

	return ChainMiddleware(
		RecoveryMiddleware(h.logger),
		RequestIDMiddleware,
		LoggingMiddleware(h.logger),
		metrics.Middleware,
	)(h.mux)
}

// RouteRequest is the body of POST /v1/tables/{id}/route.
type RouteRequest struct {
	Value string `json:"value"`
}

// RouteResponse names the partition a value is routed to.
type RouteResponse struct {
	TableID     int64 `json:"table_id"`
	PartitionID int64 `json:"partition_id"`
}

// ScanRequest is the body of POST /v1/tables/{id}/scan.
type ScanRequest struct {
	Values []string `json:"values"`
}

// ScanResponse lists the placements a scan reads.
type ScanResponse struct {
	TableID    int64                   `json:"table_id"`
	Placements []types.ColumnPlacement `json:"placements"`
}

// ProbeRequest is the body of POST /v1/tables/{id}/probe.
type ProbeRequest struct {
	AdapterID int64 `json:"adapter_id"`
	ColumnID  int64 `json:"column_id"`
}

// ProbeResponse reports whether dropping the placement is safe.
type ProbeResponse struct {
	TableID   int64 `json:"table_id"`
	AdapterID int64 `json:"adapter_id"`
	ColumnID  int64 `json:"column_id"`
	Safe      bool  `json:"safe"`
}

// DistributionResponse describes where each partition is readable.
type DistributionResponse struct {
	TableID       int64                             `json:"table_id"`
	PartitionType types.PartitionType               `json:"partition_type"`
	FullCoverage  bool                              `json:"full_coverage"`
	Partitions    map[int64][]types.ColumnPlacement `json:"partitions"`
	// Uncovered lists partitions no placement can serve completely
	Uncovered []int64 `json:"uncovered,omitempty"`
}

// PartitionStats are the lifetime access totals of one partition.
type PartitionStats struct {
	PartitionID int64 `json:"partition_id"`
	Reads       int64 `json:"reads"`
	Writes      int64 `json:"writes"`
}

// FrequencyResponse is the body of GET /v1/tables/{id}/frequency.
type FrequencyResponse struct {
	TableID    int64            `json:"table_id"`
	Partitions []PartitionStats `json:"partitions"`
	LastPlan   *frequency.Plan  `json:"last_plan,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.factory.Descriptors())
}

func (h *Handler) getFunction(w http.ResponseWriter, r *http.Request) {
	pt, err := types.ParsePartitionType(r.PathValue("type"))
	if err != nil {
		h.fail(w, r, perrors.NewValidationError(perrors.CodeUnsupportedStrategy, err.Error()))
		return
	}
	m, err := h.factory.Manager(pt)
	if err == nil && pt == types.PartitionNone {
		err = perrors.NewValidationError(perrors.CodeUnsupportedStrategy, "NONE is not a partition function")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.FunctionInfo())
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.catalog.ListTables(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *Handler) getTable(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) distribution(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	m, err := h.factory.ManagerFor(table)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	full, err := m.ValidatePartitionDistribution(r.Context(), table)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := DistributionResponse{
		TableID:       table.ID,
		PartitionType: table.PartitionType,
		FullCoverage:  full,
		Partitions:    make(map[int64][]types.ColumnPlacement, len(table.PartitionIDs)),
	}
	for _, pid := range table.PartitionIDs {
		dist, err := m.PlacementDistribution(r.Context(), table, []int64{pid})
		if perrors.HasCode(err, perrors.ErrCategoryRouting, perrors.CodeUncoveredPartition) {
			resp.Uncovered = append(resp.Uncovered, pid)
			continue
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp.Partitions[pid] = dist[pid]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	var req RouteRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.router.RouteValue(r.Context(), table, req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RouteResponse{TableID: table.ID, PartitionID: id})
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}
	placements, err := h.router.PlanScan(r.Context(), table, req.Values)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{TableID: table.ID, Placements: placements})
}

func (h *Handler) probe(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	var req ProbeRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.factory.ManagerFor(table)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	safe, err := m.ProbePartitionDistributionChange(r.Context(), table, req.AdapterID, req.ColumnID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{
		TableID:   table.ID,
		AdapterID: req.AdapterID,
		ColumnID:  req.ColumnID,
		Safe:      safe,
	})
}

func (h *Handler) frequencyStats(w http.ResponseWriter, r *http.Request) {
	if h.frequency == nil {
		h.fail(w, r, perrors.NewLifecycleError(perrors.CodeNotRunning, "frequency map is disabled"))
		return
	}
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	resp := FrequencyResponse{TableID: table.ID, Partitions: make([]PartitionStats, 0, len(table.PartitionIDs))}
	for _, id := range table.PartitionIDs {
		reads, writes := h.frequency.Totals(id)
		resp.Partitions = append(resp.Partitions, PartitionStats{PartitionID: id, Reads: reads, Writes: writes})
	}
	if plan, ok := h.frequency.LastPlan(table.ID); ok {
		resp.LastPlan = plan
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) table(w http.ResponseWriter, r *http.Request) (*types.Table, bool) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	table, err := h.catalog.GetTable(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return table, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.fail(w, r, perrors.NewValidationError(perrors.CodeInvalidArgument,
			fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error(), perrors.GetCode(err), GetRequestID(r.Context()))
}

// StatusFor maps an error to an HTTP status by its category and code.
func StatusFor(err error) int {
	var pe *perrors.PolyrouteError
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Category {
	case perrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case perrors.ErrCategoryPlacement:
		if pe.Code == perrors.CodePlacementNotFound {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case perrors.ErrCategoryRouting:
		return http.StatusUnprocessableEntity
	case perrors.ErrCategoryCatalog:
		switch pe.Code {
		case perrors.CodeNotFound:
			return http.StatusNotFound
		case perrors.CodeConflict:
			return http.StatusConflict
		case perrors.CodeBusy:
			return http.StatusServiceUnavailable
		}
	case perrors.ErrCategoryLifecycle:
		return http.StatusServiceUnavailable
	case perrors.ErrCategoryStorage:
		if pe.Code == perrors.CodeObjectNotFound {
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}
