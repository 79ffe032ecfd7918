package trigger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Type names a domain event class.
type Type string

const (
	ContractorChanged           Type = "CONTRACTOR_CHANGED"
	SupervisorChanged           Type = "SUPERVISOR_CHANGED"
	CrewChanged                 Type = "CREW_CHANGED"
	LibraryTaskChanged          Type = "LIBRARY_TASK_CHANGED"
	LibrarySiteConditionChanged Type = "LIBRARY_SITE_CONDITION_CHANGED"
	DivisionChanged             Type = "DIVISION_CHANGED"
	ProjectChanged              Type = "PROJECT_CHANGED"
	ProjectLocationChanged      Type = "PROJECT_LOCATION_CHANGED"
	ActivityChanged             Type = "ACTIVITY_CHANGED"
	DailyReportSubmitted        Type = "DAILY_REPORT_SUBMITTED"
)

// Valid reports whether t names a known trigger class.
func (t Type) Valid() bool {
	switch t {
	case ContractorChanged, SupervisorChanged, CrewChanged,
		LibraryTaskChanged, LibrarySiteConditionChanged, DivisionChanged,
		ProjectChanged, ProjectLocationChanged, ActivityChanged,
		DailyReportSubmitted:
		return true
	}
	return false
}

// Trigger is one domain event. Tenant is empty for library-level
// events; Date is set only by date-scoped events such as daily report
// submission.
type Trigger struct {
	Type   Type           `json:"type"`
	Tenant uuid.UUID      `json:"tenant_id,omitempty"`
	Entity uuid.UUID      `json:"entity_id"`
	Date   riskmodel.Date `json:"date,omitempty"`
}

// Validate checks the payload shape for the trigger class.
func (t Trigger) Validate() error {
	if !t.Type.Valid() {
		return errors.WrapInvalid(fmt.Errorf("unknown trigger type %q", t.Type), "trigger", "Validate", "check type")
	}
	if t.Entity == uuid.Nil {
		return errors.WrapInvalid(fmt.Errorf("%s trigger without an entity", t.Type), "trigger", "Validate", "check entity")
	}
	switch t.Type {
	case LibraryTaskChanged, LibrarySiteConditionChanged, DivisionChanged:
		if t.Tenant != uuid.Nil {
			return errors.WrapInvalid(fmt.Errorf("%s is library-scoped, tenant must be empty", t.Type), "trigger", "Validate", "check tenant")
		}
	default:
		if t.Tenant == uuid.Nil {
			return errors.WrapInvalid(fmt.Errorf("%s trigger without a tenant", t.Type), "trigger", "Validate", "check tenant")
		}
	}
	return nil
}

// Encode serializes the trigger for the bus.
func (t Trigger) Encode() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, errors.WrapInvalid(err, "trigger", "Encode", "marshal")
	}
	return b, nil
}

// Decode parses a bus payload.
func Decode(b []byte) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(b, &t); err != nil {
		return Trigger{}, errors.WrapInvalid(err, "trigger", "Decode", "unmarshal")
	}
	return t, nil
}

// Subject returns the bus subject the trigger publishes on.
func (t Trigger) Subject() string {
	return "triggers." + string(t.Type)
}
