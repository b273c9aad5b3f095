package mssql

import (
	"fmt"
	"strings"
)

// quoteName is the Go equivalent of QUOTENAME(): square brackets with ]
// escaped as ]]. Used for database names in three-part catalog references.
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}
