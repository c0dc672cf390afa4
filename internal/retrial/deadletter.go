package retrial

import (
	"strings"

	"go-retrial/pkg/models"
)

// DeadLetterName maps a destination to its dead-letter counterpart.
func DeadLetterName(destination string) string {
	return destination + models.DeadLetterSuffix
}

// IsDeadLetterName reports whether name has the dead-letter suffix.
func IsDeadLetterName(name string) bool {
	return strings.HasSuffix(name, models.DeadLetterSuffix)
}
