package sim

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateName checks that a name follows the naming convention of
// components. A name is a series of dot-separated elements, like
// "Proc[1].MMU". Each element starts with a capital letter, contains no
// underscore, dash, or quote, and may carry integer indices in square
// brackets.
func ValidateName(name string) error {
	for _, elem := range strings.Split(name, ".") {
		err := validateNameElement(elem)
		if err != nil {
			return fmt.Errorf("name %q is not valid: %w", name, err)
		}
	}

	return nil
}

func validateNameElement(elem string) error {
	base, indices, _ := strings.Cut(elem, "[")

	if base == "" {
		return fmt.Errorf("name element must not be empty")
	}

	if strings.ContainsAny(base, "_\"'-]") {
		return fmt.Errorf("name element %q contains an invalid character", base)
	}

	if base[0] < 'A' || base[0] > 'Z' {
		return fmt.Errorf("name element %q must start with a capital letter",
			base)
	}

	if indices == "" {
		return nil
	}

	for _, index := range strings.Split("["+indices, "[")[1:] {
		digits, found := strings.CutSuffix(index, "]")
		if !found {
			return fmt.Errorf("brackets of %q must match", elem)
		}

		_, err := strconv.Atoi(digits)
		if err != nil {
			return fmt.Errorf("index %q of %q must be an integer", digits, elem)
		}
	}

	return nil
}
