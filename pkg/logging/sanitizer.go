package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Key/value credentials: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// URL credentials (postgres://, sqlserver://): user:pass@host
	urlCredentialsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s?]+`)

	// go-sql-driver/mysql DSN: user:pass@tcp(host:port)/db
	mysqlDSNPattern = regexp.MustCompile(`[^\s:/]+:\S*@(tcp|unix)\(`)

	// godror easy-connect DSN: user/"pass"@host:port/service
	oracleDSNPattern = regexp.MustCompile(`[^\s/"]+/"[^"]*"@`)
)

// SanitizeConnectionString removes credentials from a DSN of any supported
// engine. Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = urlCredentialsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = mysqlDSNPattern.ReplaceAllString(sanitized, RedactedText+"@${1}(")
	sanitized = oracleDSNPattern.ReplaceAllString(sanitized, RedactedText+"@")

	return sanitized
}

// SanitizeError sanitizes driver error messages, which often echo the DSN.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery truncates and sanitizes a SQL query for logging.
// CREATE USER / ALTER USER statements may carry inline passwords.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := TruncateString(query, MaxQueryLogLength)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = identifiedByPattern.ReplaceAllString(sanitized, "${1} "+RedactedText)

	return sanitized
}

var identifiedByPattern = regexp.MustCompile(`(?i)(identified\s+by|with\s+password\s*=?)\s*('[^']*'|"[^"]*"|\S+)`)

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
