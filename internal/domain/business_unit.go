package domain

import "strings"

// BusinessUnit is the organisational owner derived from a pipeline name prefix.
type BusinessUnit string

const (
	UnitClientRepo    BusinessUnit = "ClientRepo"
	UnitChartNav      BusinessUnit = "ChartNav"
	UnitEDS           BusinessUnit = "EDS"
	UnitHIM           BusinessUnit = "HIM"
	UnitUncategorized BusinessUnit = "Uncategorized"
)

type unitPrefix struct {
	prefix string
	unit   BusinessUnit
}

// unitPrefixes is tested in order; the first match wins.
var unitPrefixes = []unitPrefix{
	{prefix: "cr_", unit: UnitClientRepo},
	{prefix: "cn_", unit: UnitChartNav},
	{prefix: "eds_", unit: UnitEDS},
	{prefix: "him_", unit: UnitHIM},
}

// Units lists every business unit, named units first.
func Units() []BusinessUnit {
	units := make([]BusinessUnit, 0, len(unitPrefixes)+1)
	for _, p := range unitPrefixes {
		units = append(units, p.unit)
	}
	return append(units, UnitUncategorized)
}

// Classify maps a pipeline name to its business unit. Matching is a
// case-insensitive prefix test; names without a known prefix are Uncategorized.
func Classify(name string) BusinessUnit {
	lowered := strings.ToLower(name)
	for _, p := range unitPrefixes {
		if strings.HasPrefix(lowered, p.prefix) {
			return p.unit
		}
	}
	return UnitUncategorized
}

// UnitFilter restricts pipeline names to one business unit. The zero value
// matches every name.
type UnitFilter struct {
	Unit BusinessUnit
	// Include is the lower-case prefix a name must start with.
	Include string
	// Exclude holds lower-case prefixes a name must not start with.
	Exclude []string
}

// IsZero reports whether the filter accepts every name.
func (f UnitFilter) IsZero() bool {
	return f.Include == "" && len(f.Exclude) == 0
}

// Match applies the filter to a pipeline name.
func (f UnitFilter) Match(name string) bool {
	lowered := strings.ToLower(name)
	if f.Include != "" && !strings.HasPrefix(lowered, f.Include) {
		return false
	}
	for _, prefix := range f.Exclude {
		if strings.HasPrefix(lowered, prefix) {
			return false
		}
	}
	return true
}

// ParseUnit resolves a unit tag case-insensitively.
func ParseUnit(tag string) (BusinessUnit, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	for _, unit := range Units() {
		if strings.EqualFold(tag, string(unit)) {
			return unit, true
		}
	}
	return "", false
}

// FilterFor builds the name filter for a unit tag. Empty or unrecognised tags
// yield the zero filter.
func FilterFor(tag string) UnitFilter {
	unit, ok := ParseUnit(tag)
	if !ok {
		return UnitFilter{}
	}
	if unit == UnitUncategorized {
		exclude := make([]string, 0, len(unitPrefixes))
		for _, p := range unitPrefixes {
			exclude = append(exclude, p.prefix)
		}
		return UnitFilter{Unit: unit, Exclude: exclude}
	}
	for _, p := range unitPrefixes {
		if p.unit == unit {
			return UnitFilter{Unit: unit, Include: p.prefix}
		}
	}
	return UnitFilter{}
}
