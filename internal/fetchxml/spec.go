// Package fetchxml lowers a normalized query specification to the FetchXML
// dialect Dataverse's query endpoint accepts (§4.3). The plan builder
// produces a QuerySpecification from the parsed AST; this package only
// knows about the FetchXML shape, not T-SQL syntax.
package fetchxml

// Operator is a FetchXML filter condition operator. Names mirror the
// Dataverse FetchXML operator attribute values directly.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "ge"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "le"
	OpLike         Operator = "like"
	OpNotLike      Operator = "not-like"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not-in"
	OpNull         Operator = "null"
	OpNotNull      Operator = "not-null"
	OpOn           Operator = "on"
	OpOnOrAfter    Operator = "on-or-after"
	OpOnOrBefore   Operator = "on-or-before"
)

// FilterType is the boolean combinator of a <filter> block.
type FilterType string

const (
	FilterAnd FilterType = "and"
	FilterOr  FilterType = "or"
)

// Condition is one <condition attribute="..." operator="..." value="..."/>.
type Condition struct {
	Attribute string
	Operator  Operator
	Value     string   // used when Operator has exactly one operand
	Values    []string // used for in/not-in
}

// Filter is a <filter type="and|or"> block: a list of conditions plus
// nested filters, matching FetchXML's recursive filter grammar.
type Filter struct {
	Type       FilterType
	Conditions []Condition
	Nested     []Filter
}

// ColumnSpec is one requested attribute, optionally tagged as an alias so
// <attribute name="x" alias="y"/> round-trips through to the result row.
// Virtual marks a `*name` select-list entry (§3 "Virtual columns"): the
// generator still requests the base attribute, but Generate records the
// output-name mapping so the executor can surface the formatted/lookup
// sidecar value under the `*`-prefixed name instead of the raw one.
type ColumnSpec struct {
	Name    string
	Alias   string
	Virtual bool
}

// AggregateSpec is one aggregate <attribute> entry:
// <attribute name="x" aggregate="count" alias="y"/>.
type AggregateSpec struct {
	Attribute string // "" for countcolumn's distinguished name only when Aggregate==Count and Attribute=="" means COUNT(*)
	Aggregate string // count, sum, avg, min, max, countcolumn
	Alias     string
	GroupBy   bool // true marks this attribute as a <attribute ... groupby="true"/> dimension
	DateGroup string // year/quarter/month/week/day when grouping on a date part; "" otherwise
}

// OrderSpec is one <order attribute="x" descending="true|false"/>.
type OrderSpec struct {
	Attribute  string
	Alias      string // order by an aliased aggregate/column when set
	Descending bool
}

// LinkEntity is one level of <link-entity>. FetchXML supports nesting, but
// §4.3 limits the generator to a single level (the plan builder rejects
// deeper joins before reaching here).
type LinkEntity struct {
	Name       string // logical name of the linked entity
	Alias      string
	From       string // linked entity's join attribute
	To         string // parent attribute
	LinkType   string // "inner" or "outer"
	Columns    []ColumnSpec
	AllColumns bool
	Filter     *Filter
}

// QuerySpecification is the input to Generate: a fully-resolved,
// FetchXML-shaped query. The plan builder is responsible for rejecting
// anything this shape cannot express before calling Generate.
type QuerySpecification struct {
	Entity     string
	Columns    []ColumnSpec
	AllColumns bool
	Distinct   bool
	Filter     *Filter
	Links      []LinkEntity
	Order      []OrderSpec
	Aggregates []AggregateSpec

	// Top is a user-supplied TOP N; mutually exclusive with paging, so
	// Generate writes it as the fetch count attribute (capped at the remote
	// page maximum) and ignores the paging fields per §4.3.
	Top int64

	// Paging. PageSize of 0 means "no explicit page attribute" (the
	// remote's default page size applies unless Top is set).
	PageSize     int32
	PageNumber   int32
	PagingCookie string
}

// remotePageMax is the hard cap FetchXML's count attribute accepts.
const remotePageMax = 5000
