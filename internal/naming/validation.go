package naming

import (
	"fmt"
	"strings"

	utilvalidation "k8s.io/apimachinery/pkg/util/validation"
)

const identityNameMaxLength = 63

func validateDNS1123Label(name string, maximum int, labelKind string) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", labelKind)
	}
	if len(name) > maximum {
		return fmt.Errorf("%s name exceeds %d characters", labelKind, maximum)
	}
	if errs := utilvalidation.IsDNS1123Label(name); len(errs) > 0 {
		return fmt.Errorf("invalid %s name: %s", labelKind, strings.Join(errs, ", "))
	}
	return nil
}

func ValidateApplicationName(name string) error {
	return validateDNS1123Label(name, identityNameMaxLength, "application")
}

func ValidateEnvironmentName(name string) error {
	return validateDNS1123Label(name, identityNameMaxLength, "environment")
}

func ValidateServiceName(name string) error {
	return validateDNS1123Label(name, identityNameMaxLength, "service")
}

func ValidateNamespace(name string) error {
	return validateDNS1123Label(name, identityNameMaxLength, "namespace")
}
