package database

// IndexField represents a field in an index
type IndexField struct {
	Name  string // Field name
	Order int    // 1 for ascending, -1 for descending
}

// IndexDefinition is a database-agnostic representation of an index
type IndexDefinition struct {
	Name   string
	Fields []IndexField
	Unique bool
}

// IndexWarning represents a discrepancy between defined and actual indexes
type IndexWarning struct {
	Type    IndexWarningType
	Message string
	Details map[string]any
}

type IndexWarningType string

const (
	IndexWarningMissingInCode IndexWarningType = "missing_in_code" // Index exists in DB but not in code
	IndexWarningMissingInDB   IndexWarningType = "missing_in_db"   // Index defined in code but not in DB
	IndexWarningDifferent     IndexWarningType = "different"       // Index exists in both but with different options
)
