package permissions

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// State is an immutable view of one account's privilege state, either the
// stored snapshot or the freshly fetched remote payload.
type State struct {
	Categories   map[string]any
	TypeSpecific map[string]any
	IsSuperuser  bool
	IsLocked     bool
}

// StateFromSnapshot builds the comparison baseline from a stored snapshot.
func StateFromSnapshot(s *models.PermissionSnapshot) *State {
	if s == nil {
		return nil
	}
	return &State{
		Categories:   s.Categories,
		TypeSpecific: s.TypeSpecific,
		IsSuperuser:  s.IsSuperuser(),
		IsLocked:     s.IsLocked(),
	}
}

// StateFromRemote normalizes an enriched remote account.
func StateFromRemote(dbType models.DBType, a *models.RemoteAccount) *State {
	st := &State{
		IsSuperuser:  a.IsSuperuser,
		IsLocked:     a.IsLocked,
		TypeSpecific: map[string]any{},
	}
	var cats map[string]any
	if a.Permissions != nil {
		cats = a.Permissions.Categories
		if a.Permissions.TypeSpecific != nil {
			st.TypeSpecific = a.Permissions.TypeSpecific
		}
	}
	st.Categories = Normalize(dbType, cats)
	return st
}

// Diff is the structured difference between two states.
type Diff struct {
	ChangeType    models.ChangeType
	PrivilegeDiff []models.PrivilegeDiffEntry
	OtherDiff     []models.OtherDiffEntry
}

// Changed reports whether the diff must be persisted.
func (d *Diff) Changed() bool {
	return d.ChangeType != models.ChangeTypeNone
}

// Compute diffs next against prev. A nil prev is an empty baseline and
// yields an add diff in which everything present is granted.
func Compute(dbType models.DBType, prev, next *State) Diff {
	isNew := prev == nil
	if isNew {
		prev = &State{}
	}
	if next == nil {
		next = &State{}
	}

	d := Diff{
		PrivilegeDiff: []models.PrivilegeDiffEntry{},
		OtherDiff:     []models.OtherDiffEntry{},
	}
	for _, cat := range Categories(dbType) {
		oldRaw, newRaw := prev.Categories[cat.Name], next.Categories[cat.Name]
		switch cat.Kind {
		case KindList:
			d.PrivilegeDiff = append(d.PrivilegeDiff, diffList(cat.Name, cat.Label, "*", oldRaw, newRaw)...)
		case KindMapping:
			d.PrivilegeDiff = append(d.PrivilegeDiff, diffMapping(cat, oldRaw, newRaw)...)
		}
	}
	d.OtherDiff = diffOther(prev, next)

	switch {
	case isNew:
		d.ChangeType = models.ChangeTypeAdd
	case len(d.PrivilegeDiff) > 0:
		d.ChangeType = models.ChangeTypeModifyPrivilege
	case len(d.OtherDiff) > 0:
		d.ChangeType = models.ChangeTypeModifyOther
	default:
		d.ChangeType = models.ChangeTypeNone
	}
	return d
}

func diffList(field, label, object string, oldRaw, newRaw any) []models.PrivilegeDiffEntry {
	oldList, oldOK := asStringList(oldRaw)
	newList, newOK := asStringList(newRaw)

	grants := subtract(newList, oldList)
	revokes := subtract(oldList, newList)

	var entries []models.PrivilegeDiffEntry
	if len(grants) > 0 {
		entries = append(entries, models.PrivilegeDiffEntry{
			Field: field, Label: label, Object: object, Action: models.ActionGrant, Permissions: grants,
		})
	}
	if len(revokes) > 0 {
		entries = append(entries, models.PrivilegeDiffEntry{
			Field: field, Label: label, Object: object, Action: models.ActionRevoke, Permissions: revokes,
		})
	}
	if len(entries) == 0 && (!oldOK || !newOK) && !sameValue(oldRaw, newRaw) {
		entries = append(entries, models.PrivilegeDiffEntry{
			Field: field, Label: label, Object: object, Action: models.ActionAlter, Permissions: newList,
		})
	}
	return entries
}

func diffMapping(cat Category, oldRaw, newRaw any) []models.PrivilegeDiffEntry {
	oldMap, oldOK := asStringListMap(oldRaw)
	newMap, newOK := asStringListMap(newRaw)

	keys := map[string]struct{}{}
	for k := range oldMap {
		keys[k] = struct{}{}
	}
	for k := range newMap {
		keys[k] = struct{}{}
	}

	var entries []models.PrivilegeDiffEntry
	for _, key := range sortedKeys(keys) {
		label := fmt.Sprintf("%s:%s", cat.Name, key)
		entries = append(entries, diffList(cat.Name, label, key, oldMap[key], newMap[key])...)
	}
	if len(entries) == 0 && (!oldOK || !newOK) && !sameValue(oldRaw, newRaw) {
		entries = append(entries, models.PrivilegeDiffEntry{
			Field: cat.Name, Label: cat.Name, Object: "*", Action: models.ActionAlter, Permissions: []string{},
		})
	}
	return entries
}

func diffOther(prev, next *State) []models.OtherDiffEntry {
	entries := []models.OtherDiffEntry{}
	if prev.IsSuperuser != next.IsSuperuser {
		desc := "superuser revoked"
		if next.IsSuperuser {
			desc = "superuser granted"
		}
		entries = append(entries, models.OtherDiffEntry{
			Field: "is_superuser", Label: "superuser", Before: prev.IsSuperuser, After: next.IsSuperuser, Description: desc,
		})
	}
	if prev.IsLocked != next.IsLocked {
		desc := "lock status cleared"
		if next.IsLocked {
			desc = "account locked"
		}
		entries = append(entries, models.OtherDiffEntry{
			Field: "is_locked", Label: "lock status", Before: prev.IsLocked, After: next.IsLocked, Description: desc,
		})
	}

	keys := map[string]struct{}{}
	for k := range prev.TypeSpecific {
		keys[k] = struct{}{}
	}
	for k := range next.TypeSpecific {
		keys[k] = struct{}{}
	}
	for _, key := range sortedKeys(keys) {
		before, after := prev.TypeSpecific[key], next.TypeSpecific[key]
		if sameValue(before, after) {
			continue
		}
		entries = append(entries, models.OtherDiffEntry{
			Field:       "type_specific." + key,
			Label:       key,
			Before:      before,
			After:       after,
			Description: fmt.Sprintf("%s changed from %s to %s", key, display(before), display(after)),
		})
	}
	return entries
}

// subtract returns the elements of a not in b. Both inputs are canonical.
func subtract(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	out := []string{}
	for _, s := range a {
		if _, ok := inB[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// sameValue compares through JSON so that a value read back from storage
// equals the in-memory value it was written from.
func sameValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	var va, vb any
	_ = json.Unmarshal(ja, &va)
	_ = json.Unmarshal(jb, &vb)
	return reflect.DeepEqual(va, vb)
}

func display(v any) string {
	if v == nil {
		return "none"
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
