package types

import (
	"fmt"
	"strings"
)

// ColumnType is the logical type of a table column.
type ColumnType string

const (
	ColumnInteger   ColumnType = "INTEGER"
	ColumnBigInt    ColumnType = "BIGINT"
	ColumnDecimal   ColumnType = "DECIMAL"
	ColumnDouble    ColumnType = "DOUBLE"
	ColumnVarchar   ColumnType = "VARCHAR"
	ColumnText      ColumnType = "TEXT"
	ColumnBoolean   ColumnType = "BOOLEAN"
	ColumnDate      ColumnType = "DATE"
	ColumnTimestamp ColumnType = "TIMESTAMP"
)

// IsNumeric reports whether values of the type are ordered numbers.
func (t ColumnType) IsNumeric() bool {
	switch t {
	case ColumnInteger, ColumnBigInt, ColumnDecimal, ColumnDouble:
		return true
	default:
		return false
	}
}

// ParseColumnType parses a column type name case-insensitively.
func ParseColumnType(s string) (ColumnType, error) {
	t := ColumnType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case ColumnInteger, ColumnBigInt, ColumnDecimal, ColumnDouble,
		ColumnVarchar, ColumnText, ColumnBoolean, ColumnDate, ColumnTimestamp:
		return t, nil
	}
	return "", fmt.Errorf("types: unknown column type %q", s)
}

// ColumnDef describes a column when a table is created.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name" yaml:"name"`

	// Type is the logical column type
	Type ColumnType `json:"type" yaml:"type"`
}

// Column is a catalog column.
type Column struct {
	ID       int64      `json:"id"`
	TableID  int64      `json:"table_id"`
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Position int        `json:"position"`
}

// Table is the catalog view of a table and its partitioning.
type Table struct {
	// ID is the catalog-assigned table identifier
	ID int64 `json:"id"`

	// Name is the table name
	Name string `json:"name"`

	// Columns in declaration order
	Columns []Column `json:"columns"`

	// PartitionType is NONE for unpartitioned tables
	PartitionType PartitionType `json:"partition_type"`

	// PartitionColumnID is zero for unpartitioned tables
	PartitionColumnID int64 `json:"partition_column_id,omitempty"`

	// NumPartitions always equals len(PartitionIDs)
	NumPartitions int `json:"num_partitions"`

	// PartitionIDs in creation order; routing ordinals index into it
	PartitionIDs []int64 `json:"partition_ids"`

	// Placements maps an adapter id to the column ids it hosts
	Placements map[int64][]int64 `json:"placements"`

	// Tiering is set when hot/cold processing is enabled for the table
	Tiering *TieringPolicy `json:"tiering,omitempty"`
}

// IsPartitioned reports whether a partition function is applied.
func (t *Table) IsPartitioned() bool {
	return t.PartitionType != "" && t.PartitionType != PartitionNone
}

// ColumnIDs returns the column ids in declaration order.
func (t *Table) ColumnIDs() []int64 {
	ids := make([]int64, len(t.Columns))
	for i, c := range t.Columns {
		ids[i] = c.ID
	}
	return ids
}

// Column looks up a column by case-insensitive name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnByID looks up a column by id.
func (t *Table) ColumnByID(id int64) (Column, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// PartitionOrdinal returns the position of a partition id, or -1.
func (t *Table) PartitionOrdinal(id int64) int {
	for i, pid := range t.PartitionIDs {
		if pid == id {
			return i
		}
	}
	return -1
}

// HasPartition reports whether id belongs to the table.
func (t *Table) HasPartition(id int64) bool {
	return t.PartitionOrdinal(id) >= 0
}

// Adapters returns the ids of adapters hosting at least one column.
func (t *Table) Adapters() []int64 {
	ids := make([]int64, 0, len(t.Placements))
	for id := range t.Placements {
		ids = append(ids, id)
	}
	sortInt64s(ids)
	return ids
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	cp := *t
	cp.Columns = append([]Column(nil), t.Columns...)
	cp.PartitionIDs = append([]int64(nil), t.PartitionIDs...)
	cp.Placements = make(map[int64][]int64, len(t.Placements))
	for a, cols := range t.Placements {
		cp.Placements[a] = append([]int64(nil), cols...)
	}
	if t.Tiering != nil {
		policy := *t.Tiering
		cp.Tiering = &policy
	}
	return &cp
}
