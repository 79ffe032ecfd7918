package riskmodel

import "fmt"

// MetricType enumerates every metric the reactor maintains. Each value
// carries a fixed key schema and a storage schema (table plus key
// columns); both are looked up through the flat metadata table below so
// the catalog can index descriptors by discriminant.
type MetricType int

// Metric types, roughly ordered leaves first.
const (
	MetricUnknown MetricType = iota

	ContractorSafetyScore
	TenantContractorAverage
	TenantContractorStdDev
	SupervisorSafetyScore
	SupervisorEngagementFactor
	TenantSupervisorAverage
	TenantSupervisorStdDev
	CrewSafetyScore
	TenantCrewAverage
	TenantCrewStdDev

	LibraryTaskRelativePrecursorRisk
	LibrarySiteConditionRelativePrecursorRisk
	DivisionRelativePrecursorRisk
	ProjectSafetyClimateMultiplier

	TaskSpecificSiteConditionsMultiplier
	TaskSpecificRiskScore
	ActivityTotalTaskRiskScore
	StochasticActivityTotalTaskRiskScore
	LocationTotalTaskRiskScore
	TotalProjectRiskScore

	numMetricTypes
)

// KeyFields is a bitmask naming which MetricKey fields a metric uses.
type KeyFields uint8

// Key schema components.
const (
	KeyTenant KeyFields = 1 << iota
	KeyEntity
	KeyDate
)

// Has reports whether f includes field.
func (f KeyFields) Has(field KeyFields) bool {
	return f&field != 0
}

type metricTypeInfo struct {
	name         string
	table        string
	entityColumn string // empty when the key has no entity component
	fields       KeyFields
}

// Flat metadata arena indexed by MetricType discriminant.
var metricTypeInfos = [numMetricTypes]metricTypeInfo{
	ContractorSafetyScore:      {"ContractorSafetyScore", "rm_contractor_safety_score", "contractor_id", KeyTenant | KeyEntity},
	TenantContractorAverage:    {"TenantContractorAverage", "rm_tenant_contractor_average", "", KeyTenant},
	TenantContractorStdDev:     {"TenantContractorStdDev", "rm_tenant_contractor_stddev", "", KeyTenant},
	SupervisorSafetyScore:      {"SupervisorSafetyScore", "rm_supervisor_safety_score", "supervisor_id", KeyTenant | KeyEntity},
	SupervisorEngagementFactor: {"SupervisorEngagementFactor", "rm_supervisor_engagement_factor", "supervisor_id", KeyTenant | KeyEntity},
	TenantSupervisorAverage:    {"TenantSupervisorAverage", "rm_tenant_supervisor_average", "", KeyTenant},
	TenantSupervisorStdDev:     {"TenantSupervisorStdDev", "rm_tenant_supervisor_stddev", "", KeyTenant},
	CrewSafetyScore:            {"CrewSafetyScore", "rm_crew_safety_score", "crew_id", KeyTenant | KeyEntity},
	TenantCrewAverage:          {"TenantCrewAverage", "rm_tenant_crew_average", "", KeyTenant},
	TenantCrewStdDev:           {"TenantCrewStdDev", "rm_tenant_crew_stddev", "", KeyTenant},

	LibraryTaskRelativePrecursorRisk:          {"LibraryTaskRelativePrecursorRisk", "rm_library_task_precursor_risk", "library_task_id", KeyEntity},
	LibrarySiteConditionRelativePrecursorRisk: {"LibrarySiteConditionRelativePrecursorRisk", "rm_library_site_condition_precursor_risk", "library_site_condition_id", KeyEntity},
	DivisionRelativePrecursorRisk:             {"DivisionRelativePrecursorRisk", "rm_division_precursor_risk", "division_id", KeyEntity},
	ProjectSafetyClimateMultiplier:            {"ProjectSafetyClimateMultiplier", "rm_project_safety_climate_multiplier", "project_id", KeyTenant | KeyEntity},

	TaskSpecificSiteConditionsMultiplier: {"TaskSpecificSiteConditionsMultiplier", "rm_task_specific_site_conditions_multiplier", "location_id", KeyTenant | KeyEntity | KeyDate},
	TaskSpecificRiskScore:                {"TaskSpecificRiskScore", "rm_task_specific_risk_score", "project_task_id", KeyTenant | KeyEntity | KeyDate},
	ActivityTotalTaskRiskScore:           {"ActivityTotalTaskRiskScore", "rm_activity_total_task_risk_score", "activity_id", KeyTenant | KeyEntity | KeyDate},
	StochasticActivityTotalTaskRiskScore: {"StochasticActivityTotalTaskRiskScore", "rm_stochastic_activity_total_task_risk_score", "activity_id", KeyTenant | KeyEntity | KeyDate},
	LocationTotalTaskRiskScore:           {"LocationTotalTaskRiskScore", "rm_location_total_task_risk_score", "location_id", KeyTenant | KeyEntity | KeyDate},
	TotalProjectRiskScore:                {"TotalProjectRiskScore", "rm_total_project_risk_score", "project_id", KeyTenant | KeyEntity | KeyDate},
}

// MetricTypeCount is the number of valid metric types plus one for the
// unknown sentinel; arrays indexed by MetricType use this length.
const MetricTypeCount = int(numMetricTypes)

// AllMetricTypes returns every valid metric type in declaration order.
func AllMetricTypes() []MetricType {
	types := make([]MetricType, 0, numMetricTypes-1)
	for m := MetricType(1); m < numMetricTypes; m++ {
		types = append(types, m)
	}
	return types
}

// Valid reports whether m names a known metric type.
func (m MetricType) Valid() bool {
	return m > MetricUnknown && m < numMetricTypes
}

func (m MetricType) String() string {
	if !m.Valid() {
		return fmt.Sprintf("MetricType(%d)", int(m))
	}
	return metricTypeInfos[m].name
}

// Table returns the Postgres table the metric's points persist to.
func (m MetricType) Table() string {
	if !m.Valid() {
		return ""
	}
	return metricTypeInfos[m].table
}

// EntityColumn returns the key column holding the entity identifier, or
// "" for metrics keyed on tenant alone.
func (m MetricType) EntityColumn() string {
	if !m.Valid() {
		return ""
	}
	return metricTypeInfos[m].entityColumn
}

// KeyFields returns the metric's key schema.
func (m MetricType) KeyFields() KeyFields {
	if !m.Valid() {
		return 0
	}
	return metricTypeInfos[m].fields
}

// Dated reports whether the metric is keyed by calendar day.
func (m MetricType) Dated() bool {
	return m.KeyFields().Has(KeyDate)
}

// ParseMetricType resolves a metric type by name.
func ParseMetricType(name string) (MetricType, error) {
	for m := MetricType(1); m < numMetricTypes; m++ {
		if metricTypeInfos[m].name == name {
			return m, nil
		}
	}
	return MetricUnknown, fmt.Errorf("unknown metric type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (m MetricType) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid metric type %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MetricType) UnmarshalText(b []byte) error {
	parsed, err := ParseMetricType(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
