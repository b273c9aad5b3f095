package permissions

import (
	"fmt"
	"strings"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Summarize renders a one-line description of a diff, e.g.
// "account app@%: privilege update: 2 grants added, 1 revoked; other changes: lock status cleared".
func Summarize(username string, d Diff) string {
	var granted, revoked, altered int
	for _, e := range d.PrivilegeDiff {
		switch e.Action {
		case models.ActionGrant:
			granted += len(e.Permissions)
		case models.ActionRevoke:
			revoked += len(e.Permissions)
		case models.ActionAlter:
			altered++
		}
	}

	var sections []string
	switch d.ChangeType {
	case models.ChangeTypeNone:
		return fmt.Sprintf("account %s: no changes", username)
	case models.ChangeTypeAdd:
		desc := fmt.Sprintf("new account: %s granted", plural(granted, "privilege"))
		if len(d.OtherDiff) > 0 && d.OtherDiff[0].Field == "is_superuser" {
			desc += " (superuser)"
		}
		return fmt.Sprintf("account %s: %s", username, desc)
	default:
		if len(d.PrivilegeDiff) > 0 {
			var parts []string
			if granted > 0 {
				parts = append(parts, fmt.Sprintf("%s added", plural(granted, "grant")))
			}
			if revoked > 0 {
				parts = append(parts, fmt.Sprintf("%d revoked", revoked))
			}
			if altered > 0 {
				parts = append(parts, fmt.Sprintf("%d altered", altered))
			}
			sections = append(sections, "privilege update: "+strings.Join(parts, ", "))
		}
	}

	if len(d.OtherDiff) > 0 {
		descs := make([]string, 0, len(d.OtherDiff))
		for _, e := range d.OtherDiff {
			descs = append(descs, e.Description)
		}
		sections = append(sections, "other changes: "+strings.Join(descs, ", "))
	}
	return fmt.Sprintf("account %s: %s", username, strings.Join(sections, "; "))
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
