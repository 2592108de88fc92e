package partition

import (
	"fmt"
	"strings"

	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// Setup is a requested partitioning before any partition exists.
type Setup struct {
	// Qualifiers holds one value group per explicitly defined partition
	Qualifiers [][]string

	// NumPartitions is the requested partition count, including an unbound
	// partition where the function has one
	NumPartitions int

	// PartitionNames are the sanitized names, possibly empty
	PartitionNames []string

	// PartitionColumn is the column the function is applied to
	PartitionColumn types.Column
}

// SetupError is one violated rule of a partition setup.
type SetupError struct {
	Field   string
	Message string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SetupErrors is a collection of setup errors.
type SetupErrors []*SetupError

func (e SetupErrors) Error() string {
	if len(e) == 0 {
		return "no setup errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d setup errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *SetupErrors) add(field, format string, args ...interface{}) {
	*e = append(*e, &SetupError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// asError converts collected errors into a validation error, or nil.
func (e SetupErrors) asError(pt types.PartitionType) error {
	if len(e) == 0 {
		return nil
	}
	return perrors.Wrap(perrors.ErrCategoryValidation, perrors.CodeInvalidPartitionSetup,
		fmt.Sprintf("invalid %s partition setup", pt), e)
}

// validateBaseline applies the rule shared by every partition function.
func validateBaseline(setup Setup) SetupErrors {
	var errs SetupErrors
	if setup.NumPartitions == 0 && len(setup.PartitionNames) < 2 {
		errs.add("partitions", "can't partition a table with less than 2 partitions or names")
	}
	return errs
}

// validateCount applies the rules of functions without value qualifiers.
func validateCount(pt types.PartitionType, setup Setup) SetupErrors {
	errs := validateBaseline(setup)
	if len(setup.Qualifiers) > 0 {
		errs.add("qualifiers", "%s partitioning does not support the assignment of values to partitions", pt)
	}
	if setup.NumPartitions < 2 {
		errs.add("partitions", "can't partition a table with less than 2 partitions, got %d", setup.NumPartitions)
	}
	if len(setup.PartitionNames) > 0 && len(setup.PartitionNames) != setup.NumPartitions {
		errs.add("names", "%d names given for %d partitions", len(setup.PartitionNames), setup.NumPartitions)
	}
	return errs
}

// validateQualified applies the rules of functions with one qualifier group
// per partition plus a mandatory unbound partition.
func validateQualified(pt types.PartitionType, setup Setup) SetupErrors {
	errs := validateBaseline(setup)
	if len(setup.Qualifiers) == 0 {
		errs.add("qualifiers", "%s partitioning requires qualifiers for every partition", pt)
		return errs
	}
	if len(setup.Qualifiers)+1 != setup.NumPartitions {
		errs.add("partitions",
			"number of qualifier groups (%d) plus the mandatory unbound partition must equal the number of partitions (%d)",
			len(setup.Qualifiers), setup.NumPartitions)
	}
	if len(setup.PartitionNames) > 0 && len(setup.PartitionNames) != len(setup.Qualifiers) {
		errs.add("names", "%d names given for %d qualifier groups", len(setup.PartitionNames), len(setup.Qualifiers))
	}
	for i, group := range setup.Qualifiers {
		if len(group) == 0 {
			errs.add(fmt.Sprintf("qualifiers[%d]", i), "qualifier group must not be empty")
		}
	}
	return errs
}
