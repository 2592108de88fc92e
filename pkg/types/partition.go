package types

import (
	"fmt"
	"strings"
)

// PartitionType names the partition function applied to a table.
type PartitionType string

const (
	// PartitionHash assigns rows by a hash of the partition column value.
	PartitionHash PartitionType = "HASH"

	// PartitionList assigns rows by exact membership in a value list.
	PartitionList PartitionType = "LIST"

	// PartitionRange assigns rows by half-open numeric ranges [min, max).
	PartitionRange PartitionType = "RANGE"

	// PartitionRoundRobin rotates inserts across partitions.
	PartitionRoundRobin PartitionType = "ROUND_ROBIN"

	// PartitionNone marks an unpartitioned table with one implicit partition.
	PartitionNone PartitionType = "NONE"
)

// PartitionTypes lists every known partition type in declaration order.
var PartitionTypes = []PartitionType{
	PartitionHash,
	PartitionList,
	PartitionRange,
	PartitionRoundRobin,
	PartitionNone,
}

// ParsePartitionType parses a partition type name case-insensitively.
func ParsePartitionType(s string) (PartitionType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	for _, t := range PartitionTypes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("types: unknown partition type %q", s)
}

// UnboundPartitionName is the name given to the catch-all partition.
const UnboundPartitionName = "unbound"

// Tier is the temperature class of a partition under a tiering policy.
type Tier string

const (
	TierNone Tier = ""
	TierHot  Tier = "HOT"
	TierCold Tier = "COLD"
)

// Partition is one horizontal slice of a table.
type Partition struct {
	// ID is the catalog-assigned partition identifier
	ID int64 `json:"id"`

	// TableID is the owning table; never changes after creation
	TableID int64 `json:"table_id"`

	// Name is the sanitized partition name
	Name string `json:"name"`

	// PartitionKey is the name of the partition column
	PartitionKey string `json:"partition_key"`

	// Qualifiers holds the list values (LIST) or [min, max) bounds (RANGE)
	Qualifiers []string `json:"qualifiers,omitempty"`

	// IsUnbound marks the catch-all partition for unmatched values
	IsUnbound bool `json:"is_unbound"`

	// RecordCount is maintained by the ingest side through the catalog
	RecordCount int64 `json:"record_count"`

	// Tier is the current temperature class when tiering is enabled
	Tier Tier `json:"tier,omitempty"`
}

// HasQualifier reports whether value is one of the partition's qualifiers.
func (p *Partition) HasQualifier(value string) bool {
	for _, q := range p.Qualifiers {
		if q == value {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the partition.
func (p *Partition) Clone() *Partition {
	cp := *p
	cp.Qualifiers = append([]string(nil), p.Qualifiers...)
	return &cp
}

// AccessKind distinguishes reads from writes when sampling partition access.
type AccessKind string

const (
	AccessRead  AccessKind = "READ"
	AccessWrite AccessKind = "WRITE"
)

// CostIndication selects which accesses count towards partition temperature.
type CostIndication string

const (
	CostAll   CostIndication = "ALL"
	CostRead  CostIndication = "READ"
	CostWrite CostIndication = "WRITE"
)

// Counts reports whether an access of the given kind contributes under c.
func (c CostIndication) Counts(kind AccessKind) bool {
	switch c {
	case CostRead:
		return kind == AccessRead
	case CostWrite:
		return kind == AccessWrite
	default:
		return true
	}
}

// TieringPolicy configures hot/cold placement of a partitioned table.
type TieringPolicy struct {
	// HotAccessPercentageIn is the share of partitions (by access rank) that
	// must be hot
	HotAccessPercentageIn int `json:"hot_access_percentage_in" yaml:"hot_access_percentage_in"`

	// HotAccessPercentageOut is the share of partitions allowed to stay hot
	HotAccessPercentageOut int `json:"hot_access_percentage_out" yaml:"hot_access_percentage_out"`

	// FrequencyIntervalSeconds is the sliding window used to rank partitions
	FrequencyIntervalSeconds int64 `json:"frequency_interval_seconds" yaml:"frequency_interval_seconds"`

	// CostIndication selects which accesses are counted
	CostIndication CostIndication `json:"cost_indication" yaml:"cost_indication"`
}

// Validate checks the policy bounds.
func (p *TieringPolicy) Validate() error {
	if p.HotAccessPercentageIn < 1 || p.HotAccessPercentageIn > 100 {
		return fmt.Errorf("types: hot_access_percentage_in must be in [1, 100], got %d", p.HotAccessPercentageIn)
	}
	if p.HotAccessPercentageOut < p.HotAccessPercentageIn || p.HotAccessPercentageOut > 100 {
		return fmt.Errorf("types: hot_access_percentage_out must be in [%d, 100], got %d",
			p.HotAccessPercentageIn, p.HotAccessPercentageOut)
	}
	if p.FrequencyIntervalSeconds <= 0 {
		return fmt.Errorf("types: frequency_interval_seconds must be positive")
	}
	switch p.CostIndication {
	case CostAll, CostRead, CostWrite:
	default:
		return fmt.Errorf("types: unknown cost indication %q", p.CostIndication)
	}
	return nil
}
