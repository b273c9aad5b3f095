package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// FilterRule lists accounts that are never synchronized for one engine.
// Patterns use SQL LIKE syntax: % matches any run, _ matches one character.
type FilterRule struct {
	ExcludeUsers    []string `yaml:"exclude_users"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

type filterFile struct {
	Filters map[string]FilterRule `yaml:"filters"`
}

// AccountFilter decides which remote accounts are skipped before sync.
// It is immutable once built.
type AccountFilter struct {
	users    map[models.DBType]map[string]struct{}
	patterns map[models.DBType][]*regexp.Regexp
}

// DefaultAccountFilters excludes engine-internal accounts.
func DefaultAccountFilters() map[models.DBType]FilterRule {
	return map[models.DBType]FilterRule{
		models.DBTypeMySQL: {
			ExcludeUsers:    []string{"mysql.sys@localhost", "mysql.session@localhost", "mysql.infoschema@localhost"},
			ExcludePatterns: []string{"mysql.%"},
		},
		models.DBTypePostgreSQL: {
			ExcludePatterns: []string{"pg\\_%"},
		},
		models.DBTypeSQLServer: {
			ExcludePatterns: []string{`NT SERVICE\\%`, `NT AUTHORITY\\%`, "##%"},
		},
		models.DBTypeOracle: {
			ExcludeUsers: []string{"SYS", "SYSTEM", "XS$NULL", "ANONYMOUS"},
		},
	}
}

// LoadAccountFilters reads a filter file. A missing file yields the defaults.
//
//	filters:
//	  mysql:
//	    exclude_users: ["root@localhost"]
//	    exclude_patterns: ["backup_%"]
func LoadAccountFilters(path string) (*AccountFilter, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewAccountFilter(DefaultAccountFilters())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account filters: %w", err)
	}

	var file filterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse account filters: %w", err)
	}

	rules := make(map[models.DBType]FilterRule, len(file.Filters))
	for name, rule := range file.Filters {
		dbType, err := models.ParseDBType(name)
		if err != nil {
			return nil, fmt.Errorf("account filters: %w", err)
		}
		rules[dbType] = rule
	}
	return NewAccountFilter(rules)
}

func NewAccountFilter(rules map[models.DBType]FilterRule) (*AccountFilter, error) {
	f := &AccountFilter{
		users:    map[models.DBType]map[string]struct{}{},
		patterns: map[models.DBType][]*regexp.Regexp{},
	}
	for dbType, rule := range rules {
		set := make(map[string]struct{}, len(rule.ExcludeUsers))
		for _, u := range rule.ExcludeUsers {
			set[strings.ToLower(u)] = struct{}{}
		}
		f.users[dbType] = set

		for _, p := range rule.ExcludePatterns {
			re, err := likeToRegexp(p)
			if err != nil {
				return nil, fmt.Errorf("invalid exclude pattern %q for %s: %w", p, dbType, err)
			}
			f.patterns[dbType] = append(f.patterns[dbType], re)
		}
	}
	return f, nil
}

// ShouldExclude reports whether username is filtered out for dbType.
// Matching is case-insensitive.
func (f *AccountFilter) ShouldExclude(dbType models.DBType, username string) bool {
	if f == nil {
		return false
	}
	if _, ok := f.users[dbType][strings.ToLower(username)]; ok {
		return true
	}
	for _, re := range f.patterns[dbType] {
		if re.MatchString(username) {
			return true
		}
	}
	return false
}

// likeToRegexp converts a LIKE pattern. A backslash escapes the next character.
func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(regexp.QuoteMeta(`\`))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
