package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/polyroute/polyroute/internal/ddl"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// WithDDL enables the endpoints that change tables, partitioning and
// placements.
func WithDDL(m *ddl.Manager) Option {
	return func(h *Handler) { h.ddl = m }
}

func (h *Handler) registerDDLRoutes() {
	h.mux.HandleFunc("POST /v1/stores", h.requireDDL(h.registerStore))
	h.mux.HandleFunc("DELETE /v1/stores/{adapter}", h.requireDDL(h.dropStore))
	h.mux.HandleFunc("POST /v1/tables", h.requireDDL(h.createTable))
	h.mux.HandleFunc("DELETE /v1/tables/{id}", h.requireDDL(h.dropTable))
	h.mux.HandleFunc("POST /v1/tables/{id}/partitioning", h.requireDDL(h.createPartitions))
	h.mux.HandleFunc("PUT /v1/tables/{id}/partitioning", h.requireDDL(h.repartition))
	h.mux.HandleFunc("DELETE /v1/tables/{id}/partitioning", h.requireDDL(h.removePartitioning))
	h.mux.HandleFunc("POST /v1/tables/{id}/placements", h.requireDDL(h.addPlacement))
	h.mux.HandleFunc("PUT /v1/tables/{id}/placements/{adapter}/partitions", h.requireDDL(h.modifyPartitionPlacement))
	h.mux.HandleFunc("DELETE /v1/tables/{id}/placements/{adapter}", h.requireDDL(h.dropPlacement))
	h.mux.HandleFunc("DELETE /v1/tables/{id}/placements/{adapter}/columns/{column}", h.requireDDL(h.dropColumnPlacement))
	h.mux.HandleFunc("PUT /v1/tables/{id}/tiering", h.requireDDL(h.enableTiering))
	h.mux.HandleFunc("DELETE /v1/tables/{id}/tiering", h.requireDDL(h.disableTiering))
}

func (h *Handler) requireDDL(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.ddl == nil {
			h.fail(w, r, perrors.NewLifecycleError(perrors.CodeNotRunning, "ddl is disabled"))
			return
		}
		next(w, r)
	}
}

// RegisterStoreRequest is the body of POST /v1/stores.
type RegisterStoreRequest struct {
	Name string `json:"name"`
}

// CreateTableRequest is the body of POST /v1/tables.
type CreateTableRequest struct {
	Name    string            `json:"name"`
	Columns []types.ColumnDef `json:"columns"`
	Stores  []int64           `json:"stores"`
}

// PartitionRequest is the body of POST and PUT /v1/tables/{id}/partitioning.
type PartitionRequest struct {
	Type           string     `json:"type"`
	Column         string     `json:"column"`
	NumPartitions  int        `json:"num_partitions,omitempty"`
	PartitionNames []string   `json:"partition_names,omitempty"`
	Qualifiers     [][]string `json:"qualifiers,omitempty"`
}

// AddPlacementRequest is the body of POST /v1/tables/{id}/placements.
// Omitted column or partition ids follow the DDL defaults.
type AddPlacementRequest struct {
	AdapterID    int64   `json:"adapter_id"`
	ColumnIDs    []int64 `json:"column_ids,omitempty"`
	PartitionIDs []int64 `json:"partition_ids,omitempty"`
}

// PartitionPlacementRequest is the body of
// PUT /v1/tables/{id}/placements/{adapter}/partitions.
type PartitionPlacementRequest struct {
	PartitionIDs []int64 `json:"partition_ids"`
}

func (h *Handler) registerStore(w http.ResponseWriter, r *http.Request) {
	var req RegisterStoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	adapter, err := h.ddl.RegisterStore(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, adapter)
}

func (h *Handler) dropStore(w http.ResponseWriter, r *http.Request) {
	adapterID, ok := h.pathID(w, r, "adapter")
	if !ok {
		return
	}
	if err := h.ddl.DropStore(r.Context(), adapterID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createTable(w http.ResponseWriter, r *http.Request) {
	var req CreateTableRequest
	if !h.decode(w, r, &req) {
		return
	}
	table, err := h.ddl.CreateTable(r.Context(), req.Name, req.Columns, req.Stores)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, table)
}

func (h *Handler) dropTable(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.ddl.DropTable(r.Context(), tableID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createPartitions(w http.ResponseWriter, r *http.Request) {
	req, ok := h.partitionRequest(w, r)
	if !ok {
		return
	}
	table, err := h.ddl.CreatePartitions(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) repartition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.partitionRequest(w, r)
	if !ok {
		return
	}
	table, err := h.ddl.Repartition(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) removePartitioning(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	table, err := h.ddl.RemovePartitioning(r.Context(), tableID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) addPlacement(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddPlacementRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ddl.AddPlacement(r.Context(), req.AdapterID, tableID, req.ColumnIDs, req.PartitionIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeTable(w, r, tableID)
}

func (h *Handler) modifyPartitionPlacement(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	adapterID, ok := h.pathID(w, r, "adapter")
	if !ok {
		return
	}
	var req PartitionPlacementRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ddl.ModifyPartitionPlacement(r.Context(), adapterID, tableID, req.PartitionIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeTable(w, r, tableID)
}

func (h *Handler) dropPlacement(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	adapterID, ok := h.pathID(w, r, "adapter")
	if !ok {
		return
	}
	if err := h.ddl.DropPlacement(r.Context(), adapterID, tableID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dropColumnPlacement(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	adapterID, ok := h.pathID(w, r, "adapter")
	if !ok {
		return
	}
	columnID, ok := h.pathID(w, r, "column")
	if !ok {
		return
	}
	if err := h.ddl.DropColumnPlacement(r.Context(), adapterID, tableID, columnID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableTiering(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var policy types.TieringPolicy
	if !h.decode(w, r, &policy) {
		return
	}
	if err := h.ddl.EnableTiering(r.Context(), tableID, policy); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeTable(w, r, tableID)
}

func (h *Handler) disableTiering(w http.ResponseWriter, r *http.Request) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.ddl.DisableTiering(r.Context(), tableID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) partitionRequest(w http.ResponseWriter, r *http.Request) (ddl.PartitionRequest, bool) {
	tableID, ok := h.pathID(w, r, "id")
	if !ok {
		return ddl.PartitionRequest{}, false
	}
	var body PartitionRequest
	if !h.decode(w, r, &body) {
		return ddl.PartitionRequest{}, false
	}
	pt, err := types.ParsePartitionType(body.Type)
	if err != nil {
		h.fail(w, r, perrors.NewValidationError(perrors.CodeUnsupportedStrategy, err.Error()))
		return ddl.PartitionRequest{}, false
	}
	return ddl.PartitionRequest{
		TableID:        tableID,
		Type:           pt,
		Column:         body.Column,
		NumPartitions:  body.NumPartitions,
		PartitionNames: body.PartitionNames,
		Qualifiers:     body.Qualifiers,
	}, true
}

func (h *Handler) writeTable(w http.ResponseWriter, r *http.Request, tableID int64) {
	table, err := h.catalog.GetTable(r.Context(), tableID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		h.fail(w, r, perrors.NewValidationError(perrors.CodeInvalidArgument,
			fmt.Sprintf("invalid %s %q", name, r.PathValue(name))))
		return 0, false
	}
	return id, true
}
