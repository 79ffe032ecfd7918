package sitecondition

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Handle names a site condition rule.
type Handle string

// Automatic site condition handles.
const (
	HandleBuildingDensity    Handle = "building_density"
	HandleCrime              Handle = "crime"
	HandleExtremeTopography  Handle = "extreme_topography"
	HandleCellCoverage       Handle = "cell_coverage"
	HandleRoadway            Handle = "roadway"
	HandleAirTemperature     Handle = "air_temperature_extreme"
	HandleGustWindSpeed      Handle = "gust_wind_speed"
	HandleHeavyPrecipitation Handle = "heavy_precipitation"
)

// WorldData is the externally gathered signal set for one location and
// day. Nil fields mean the source was unavailable.
type WorldData struct {
	BuildingDensityPct *float64 `json:"building_density_pct,omitempty"`
	CrimeTotalIndex    *float64 `json:"crime_total_index,omitempty"`
	SlopePct           *float64 `json:"slope_pct,omitempty"`
	// Carriers lists the major carriers covering the point; non-nil and
	// empty means "checked, none cover it".
	Carriers               []string `json:"carriers,omitempty"`
	CarriersKnown          bool     `json:"carriers_known,omitempty"`
	RoadwayClassifications []string `json:"roadway_classifications,omitempty"`
	TemperatureMaxF        *float64 `json:"temperature_max_f,omitempty"`
	TemperatureMinF        *float64 `json:"temperature_min_f,omitempty"`
	GustWindSpeedMph       *float64 `json:"gust_wind_speed_mph,omitempty"`
	PrecipitationInches    *float64 `json:"precipitation_inches,omitempty"`
}

// ManualCondition is a site condition a user attached to the location;
// it always applies with its library-defined multiplier and always
// alerts.
type ManualCondition struct {
	LibrarySiteConditionID uuid.UUID
	Handle                 Handle
	Multiplier             float64
}

// Result is one evaluated condition.
type Result struct {
	Handle     Handle          `json:"handle"`
	Applies    bool            `json:"applies"`
	Multiplier float64         `json:"multiplier"`
	Alert      bool            `json:"alert"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// Rule thresholds and multipliers. Authoritative values ship with the
// library content; these are the design-policy constants.
const (
	buildingDensityMinPct   = 10
	buildingDensityMult     = 0.05
	crimeMinTotalIndex      = 200
	crimeMult               = 0.05
	extremeTopographySlope  = 15
	extremeTopographyMult   = 0.05
	cellCoverageMult        = 0.05
	temperatureMaxExtremeF  = 95
	temperatureMinExtremeF  = 20
	temperatureExtremeMult  = 0.10
	gustWindMinMph          = 25
	gustWindMult            = 0.05
	heavyPrecipitationInObs = 0.5
	heavyPrecipitationMult  = 0.05
)

// roadwayMultipliers maps major roadway classifications to their
// multipliers; the biggest matching classification wins.
var roadwayMultipliers = map[string]float64{
	"interstate": 0.10,
	"primary":    0.08,
	"secondary":  0.06,
	"local":      0.05,
}

// Evaluator holds no state; it exists so callers can inject it as a
// collaborator and tests can assert purity.
type Evaluator struct{}

// NewEvaluator returns the stateless evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func rawValue(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// Evaluate maps world data plus manually attached conditions to the
// full result list. Automatic handles appear in a stable order; manual
// conditions follow in input order.
func (e *Evaluator) Evaluate(data WorldData, manual []ManualCondition) []Result {
	results := make([]Result, 0, 8+len(manual))

	add := func(handle Handle, applies bool, multiplier float64, value json.RawMessage) {
		if !applies {
			multiplier = 0
		}
		results = append(results, Result{Handle: handle, Applies: applies, Multiplier: multiplier, Value: value})
	}

	if d := data.BuildingDensityPct; d != nil {
		add(HandleBuildingDensity, *d >= buildingDensityMinPct, buildingDensityMult, rawValue(*d))
	} else {
		add(HandleBuildingDensity, false, 0, nil)
	}

	if c := data.CrimeTotalIndex; c != nil {
		add(HandleCrime, *c >= crimeMinTotalIndex, crimeMult, rawValue(*c))
	} else {
		add(HandleCrime, false, 0, nil)
	}

	if s := data.SlopePct; s != nil {
		add(HandleExtremeTopography, *s >= extremeTopographySlope, extremeTopographyMult, rawValue(*s))
	} else {
		add(HandleExtremeTopography, false, 0, nil)
	}

	if data.CarriersKnown {
		add(HandleCellCoverage, len(data.Carriers) == 0, cellCoverageMult, rawValue(data.Carriers))
	} else {
		add(HandleCellCoverage, false, 0, nil)
	}

	if best, ok := maxRoadwayMultiplier(data.RoadwayClassifications); ok {
		add(HandleRoadway, true, best, rawValue(data.RoadwayClassifications))
	} else {
		add(HandleRoadway, false, 0, nil)
	}

	tempApplies := false
	if data.TemperatureMaxF != nil && *data.TemperatureMaxF >= temperatureMaxExtremeF {
		tempApplies = true
	}
	if data.TemperatureMinF != nil && *data.TemperatureMinF <= temperatureMinExtremeF {
		tempApplies = true
	}
	if data.TemperatureMaxF != nil || data.TemperatureMinF != nil {
		add(HandleAirTemperature, tempApplies, temperatureExtremeMult,
			rawValue(map[string]*float64{"max_f": data.TemperatureMaxF, "min_f": data.TemperatureMinF}))
	} else {
		add(HandleAirTemperature, false, 0, nil)
	}

	if w := data.GustWindSpeedMph; w != nil {
		add(HandleGustWindSpeed, *w >= gustWindMinMph, gustWindMult, rawValue(*w))
	} else {
		add(HandleGustWindSpeed, false, 0, nil)
	}

	if p := data.PrecipitationInches; p != nil {
		add(HandleHeavyPrecipitation, *p >= heavyPrecipitationInObs, heavyPrecipitationMult, rawValue(*p))
	} else {
		add(HandleHeavyPrecipitation, false, 0, nil)
	}

	for _, m := range manual {
		results = append(results, Result{
			Handle:     m.Handle,
			Applies:    true,
			Multiplier: m.Multiplier,
			Alert:      true,
			Value:      rawValue(m.LibrarySiteConditionID),
		})
	}
	return results
}

func maxRoadwayMultiplier(classifications []string) (float64, bool) {
	var best float64
	found := false
	for _, c := range classifications {
		if mult, ok := roadwayMultipliers[strings.ToLower(c)]; ok {
			found = true
			if mult > best {
				best = mult
			}
		}
	}
	return best, found
}

// TotalMultiplier folds evaluated conditions into the factor applied to
// a task's base risk: 1 plus the sum of applying multipliers.
func TotalMultiplier(results []Result) float64 {
	total := 1.0
	for _, r := range results {
		if r.Applies {
			total += r.Multiplier
		}
	}
	return total
}
