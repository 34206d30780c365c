package tool

import "fmt"

// RequireField rejects an empty string param.
func RequireField(name, value string) error {
	if value != "" {
		return nil
	}
	return fmt.Errorf("'%s' is required", name)
}

// ValidateNonNegative rejects negative numeric params. Zero passes, since
// tools treat unset numbers as zero.
func ValidateNonNegative(name string, value int) error {
	if value >= 0 {
		return nil
	}
	return fmt.Errorf("'%s' must not be negative", name)
}

// ValidateAll reports the first failed check.
func ValidateAll(checks ...error) error {
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}
