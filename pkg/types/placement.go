package types

import "sort"

// PlacementType records how a column placement came to exist.
type PlacementType string

const (
	// PlacementAutomatic placements are created implicitly with the table.
	PlacementAutomatic PlacementType = "AUTOMATIC"

	// PlacementManual placements are added explicitly by DDL.
	PlacementManual PlacementType = "MANUAL"
)

// Adapter is a registered storage backend.
type Adapter struct {
	ID         int64  `json:"id"`
	UniqueName string `json:"unique_name"`
}

// ColumnPlacement is the physical copy of one column on one adapter. The
// partitions it stores are those of its data placement (AdapterID, TableID).
type ColumnPlacement struct {
	AdapterID     int64         `json:"adapter_id"`
	TableID       int64         `json:"table_id"`
	ColumnID      int64         `json:"column_id"`
	PlacementType PlacementType `json:"placement_type"`
}

// SortPlacements orders placements by column then adapter.
func SortPlacements(ps []ColumnPlacement) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].ColumnID != ps[j].ColumnID {
			return ps[i].ColumnID < ps[j].ColumnID
		}
		return ps[i].AdapterID < ps[j].AdapterID
	})
}

func sortInt64s(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
