package validation

import (
	"fmt"
	"strconv"
	"strings"
)

type Violations struct {
	Errors map[string][]error
}

func (violations Violations) IsEmpty() bool {
	return len(violations.Errors) == 0
}

// ValidateMap checks each field in data against its rules. Fields without
// rules are rejected.
func ValidateMap(data map[string]string, rules map[string][]string) Violations {
	var violations Violations
	violations.Errors = make(map[string][]error)

	for attributeName, attributeValue := range data {
		attributeRules, attributeRulesExists := rules[attributeName]
		if !attributeRulesExists {
			violations.Errors[attributeName] = append(violations.Errors[attributeName], fmt.Errorf("validation: no rules found :: %s", attributeName))
			continue
		}

		var errorCollection []error
		for _, attributeRule := range attributeRules {
			if err := validate(attributeRule, attributeName, attributeValue); err != nil {
				errorCollection = append(errorCollection, err)
			}
		}

		if len(errorCollection) != 0 {
			violations.Errors[attributeName] = errorCollection
		}
	}

	return violations
}

func validate(rule string, name string, value string) error {
	switch {
	case rule == "required":
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	case rule == "integer":
		// Empty values are the "required" rule's concern.
		if value != "" && !ValidateInteger(value) {
			return fmt.Errorf("%s is not numeric", name)
		}
	case strings.HasPrefix(rule, "gt:"):
		bound, err := ruleBound(rule, "gt:")
		if err != nil {
			return err
		}
		if value != "" && !ValidateGreaterThen(value, bound) {
			return fmt.Errorf("%s is not greater than %d", name, bound)
		}
	case strings.HasPrefix(rule, "lt:"):
		bound, err := ruleBound(rule, "lt:")
		if err != nil {
			return err
		}
		if value != "" && !ValidateLesserThen(value, bound) {
			return fmt.Errorf("%s is not lesser than %d", name, bound)
		}
	default:
		return fmt.Errorf("invalid validation rule :: %s", rule)
	}

	return nil
}

func ruleBound(rule string, prefix string) (int, error) {
	bound, err := strconv.Atoi(strings.TrimPrefix(rule, prefix))
	if err != nil {
		return 0, fmt.Errorf("invalid validation rule :: %s", rule)
	}
	return bound, nil
}

func ValidateInteger(value string) bool {
	_, err := strconv.Atoi(value)
	return err == nil
}

func ValidateGreaterThen(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt > size
}

func ValidateLesserThen(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt < size
}
