package enums

import "fmt"

// PlanType distinguishes the two subscription plan families.
type PlanType string

const (
	PlanTypeResidential PlanType = "residential"
	PlanTypeIndustrial  PlanType = "industrial"
)

var validPlanTypes = []PlanType{
	PlanTypeResidential,
	PlanTypeIndustrial,
}

// String implements fmt.Stringer.
func (p PlanType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanType converts raw input into a PlanType.
func ParsePlanType(value string) (PlanType, error) {
	for _, candidate := range validPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}
