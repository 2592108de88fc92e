package partition

import (
	"encoding/json"
	"fmt"

	"github.com/polyroute/polyroute/pkg/types"
)

// FieldType is the kind of input a management UI renders for a column.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldDropdown FieldType = "dropdown"
	FieldLabel    FieldType = "label"
)

// FunctionColumn describes one input cell of a partition function row.
type FunctionColumn struct {
	Title           string    `json:"title"`
	FieldType       FieldType `json:"fieldType"`
	Mandatory       bool      `json:"mandatory"`
	Modifiable      bool      `json:"modifiable"`
	DefaultValue    string    `json:"defaultValue"`
	Options         []string  `json:"options,omitempty"`
	SQLPrefix       string    `json:"sqlPrefix"`
	SQLSuffix       string    `json:"sqlSuffix"`
	ValueSeparation string    `json:"valueSeparation"`
}

// FunctionInfo tells a management UI how to render the input form of a
// partition function and how to turn the filled form into SQL. Dynamic rows
// are repeated once per partition between the fixed rows.
type FunctionInfo struct {
	Type          types.PartitionType `json:"type"`
	Title         string              `json:"functionTitle"`
	Description   string              `json:"description"`
	SQLPrefix     string              `json:"sqlPrefix"`
	SQLSuffix     string              `json:"sqlSuffix"`
	RowSeparation string              `json:"rowSeparation"`
	Headings      []string            `json:"headings"`
	RowsBefore    [][]FunctionColumn  `json:"rowsBefore"`
	DynamicRows   []FunctionColumn    `json:"dynamicRows"`
	RowsAfter     [][]FunctionColumn  `json:"rowsAfter"`
}

// ToJSON serializes the descriptor for the management UI.
func (f FunctionInfo) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("descriptor: failed to marshal %s: %w", f.Type, err)
	}
	return data, nil
}

func (f FunctionInfo) clone() FunctionInfo {
	cp := f
	cp.Headings = append([]string(nil), f.Headings...)
	cp.RowsBefore = cloneRows(f.RowsBefore)
	cp.RowsAfter = cloneRows(f.RowsAfter)
	cp.DynamicRows = cloneColumns(f.DynamicRows)
	return cp
}

func cloneRows(rows [][]FunctionColumn) [][]FunctionColumn {
	out := make([][]FunctionColumn, len(rows))
	for i, r := range rows {
		out[i] = cloneColumns(r)
	}
	return out
}

func cloneColumns(cols []FunctionColumn) []FunctionColumn {
	out := make([]FunctionColumn, len(cols))
	for i, c := range cols {
		c.Options = append([]string(nil), c.Options...)
		out[i] = c
	}
	return out
}

var (
	nameColumn = FunctionColumn{
		Title:     "Partition Name",
		FieldType: FieldText,
		Mandatory: true, Modifiable: true,
		SQLPrefix: "PARTITION ",
	}
	unboundRow = []FunctionColumn{
		{Title: "Partition Name", FieldType: FieldLabel, DefaultValue: types.UnboundPartitionName},
		{Title: "Values", FieldType: FieldLabel, DefaultValue: "automatically filled with all remaining values"},
	}
)

// functionTemplates holds the UI descriptor of every partition function.
var functionTemplates = map[types.PartitionType]FunctionInfo{
	types.PartitionHash: {
		Type:          types.PartitionHash,
		Title:         "HASH",
		Description:   "Distributes rows over the partitions by a hash of the partition column value.",
		SQLPrefix:     "WITH (",
		SQLSuffix:     ")",
		RowSeparation: ",",
		Headings:      []string{"Partition Name"},
		DynamicRows:   []FunctionColumn{{Title: "Partition Name", FieldType: FieldText, Mandatory: true, Modifiable: true}},
	},
	types.PartitionList: {
		Type:          types.PartitionList,
		Title:         "LIST",
		Description:   "Assigns each partition an explicit list of values. Unmatched values go to the unbound partition.",
		SQLPrefix:     "(",
		SQLSuffix:     ")",
		RowSeparation: ",",
		Headings:      []string{"Partition Name", "Values"},
		DynamicRows: []FunctionColumn{
			nameColumn,
			{Title: "Values", FieldType: FieldText, Mandatory: true, Modifiable: true,
				SQLPrefix: "VALUES(", SQLSuffix: ")", ValueSeparation: ","},
		},
		RowsAfter: [][]FunctionColumn{unboundRow},
	},
	types.PartitionRange: {
		Type:          types.PartitionRange,
		Title:         "RANGE",
		Description:   "Assigns each partition a half-open numeric range [min, max). Values outside all ranges go to the unbound partition.",
		SQLPrefix:     "(",
		SQLSuffix:     ")",
		RowSeparation: ",",
		Headings:      []string{"Partition Name", "MIN", "MAX"},
		DynamicRows: []FunctionColumn{
			nameColumn,
			{Title: "MIN", FieldType: FieldText, Mandatory: true, Modifiable: true, SQLPrefix: "VALUES(", SQLSuffix: ","},
			{Title: "MAX", FieldType: FieldText, Mandatory: true, Modifiable: true, SQLSuffix: ")"},
		},
		RowsAfter: [][]FunctionColumn{{
			{Title: "Partition Name", FieldType: FieldLabel, DefaultValue: types.UnboundPartitionName},
			{Title: "MIN", FieldType: FieldLabel, DefaultValue: "automatically filled"},
			{Title: "MAX", FieldType: FieldLabel, DefaultValue: "automatically filled"},
		}},
	},
	types.PartitionRoundRobin: {
		Type:          types.PartitionRoundRobin,
		Title:         "ROUND ROBIN",
		Description:   "Rotates inserted rows across the partitions regardless of the column value.",
		SQLPrefix:     "WITH (",
		SQLSuffix:     ")",
		RowSeparation: ",",
		Headings:      []string{"Partition Name"},
		DynamicRows:   []FunctionColumn{{Title: "Partition Name", FieldType: FieldText, Mandatory: true, Modifiable: true}},
	},
	types.PartitionNone: {
		Type:        types.PartitionNone,
		Title:       "NONE",
		Description: "The table is not partitioned.",
	},
}

// describe returns a private copy of the template for a partition type.
func describe(pt types.PartitionType) FunctionInfo {
	return functionTemplates[pt].clone()
}
