package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// checkpointer is an in-memory store that can roll back to a saved state.
type checkpointer interface {
	checkpoint() (restore func())
}

// fakeTx runs fn directly and restores every registered store when fn fails,
// standing in for a real transaction or savepoint.
type fakeTx struct {
	stores    []checkpointer
	txCount   int
	spCount   int
	commitErr error
}

func newFakeTx(stores ...checkpointer) *fakeTx {
	return &fakeTx{stores: stores}
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txCount++
	return f.run(ctx, fn, f.commitErr)
}

func (f *fakeTx) WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	f.spCount++
	return f.run(ctx, fn, nil)
}

func (f *fakeTx) run(ctx context.Context, fn func(ctx context.Context) error, commitErr error) error {
	restores := make([]func(), len(f.stores))
	for i, s := range f.stores {
		restores[i] = s.checkpoint()
	}
	err := fn(ctx)
	if err == nil {
		err = commitErr
	}
	if err != nil {
		for _, r := range restores {
			r()
		}
	}
	return err
}

// --- inventory ---

type mockInventoryRepo struct {
	mu        sync.Mutex
	entries   map[int64]*models.AccountInventoryEntry
	nextID    int64
	listErr   error
	createErr error
	deactErr  error
}

func newMockInventoryRepo() *mockInventoryRepo {
	return &mockInventoryRepo{entries: map[int64]*models.AccountInventoryEntry{}, nextID: 1}
}

func (m *mockInventoryRepo) checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[int64]models.AccountInventoryEntry, len(m.entries))
	for id, e := range m.entries {
		saved[id] = *e
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = make(map[int64]*models.AccountInventoryEntry, len(saved))
		for id, e := range saved {
			m.entries[id] = &e
		}
		m.nextID = nextID
	}
}

func (m *mockInventoryRepo) byName(name string) *models.AccountInventoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Username == name {
			c := *e
			return &c
		}
	}
	return nil
}

func (m *mockInventoryRepo) ListByInstance(_ context.Context, instanceID int64, dbType models.DBType) ([]*models.AccountInventoryEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AccountInventoryEntry
	for _, id := range slices.Sorted(maps.Keys(m.entries)) {
		e := m.entries[id]
		if e.InstanceID == instanceID && e.DBType == dbType {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockInventoryRepo) Create(_ context.Context, entries []*models.AccountInventoryEntry) error {
	if m.createErr != nil && len(entries) > 0 {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.ID = m.nextID
		m.nextID++
		e.IsActive = true
		e.LastSeenAt = e.FirstSeenAt
		c := *e
		m.entries[e.ID] = &c
	}
	return nil
}

func (m *mockInventoryRepo) Refresh(_ context.Context, ids []int64, now time.Time) error {
	return m.apply(ids, func(e *models.AccountInventoryEntry) { e.LastSeenAt = now })
}

func (m *mockInventoryRepo) Reactivate(_ context.Context, ids []int64, now time.Time) error {
	return m.apply(ids, func(e *models.AccountInventoryEntry) {
		e.IsActive, e.DeletedAt, e.LastSeenAt = true, nil, now
	})
}

func (m *mockInventoryRepo) Deactivate(_ context.Context, ids []int64, now time.Time) error {
	if m.deactErr != nil && len(ids) > 0 {
		return m.deactErr
	}
	return m.apply(ids, func(e *models.AccountInventoryEntry) {
		at := now
		e.IsActive, e.DeletedAt = false, &at
	})
}

func (m *mockInventoryRepo) apply(ids []int64, fn func(e *models.AccountInventoryEntry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok {
			return fmt.Errorf("entry %d: %w", id, apperrors.ErrNotFound)
		}
		fn(e)
	}
	return nil
}

// --- permission snapshots ---

type mockSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[int64]*models.PermissionSnapshot
	touched   map[int64]time.Time
	facts     []models.AccountFacts
	saveErr   map[int64]error
	loadErr   error
	factsErr  error
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{
		snapshots: map[int64]*models.PermissionSnapshot{},
		touched:   map[int64]time.Time{},
		saveErr:   map[int64]error{},
	}
}

func (m *mockSnapshotRepo) checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[int64]models.PermissionSnapshot, len(m.snapshots))
	for id, s := range m.snapshots {
		saved[id] = *s
	}
	touched := maps.Clone(m.touched)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.snapshots = make(map[int64]*models.PermissionSnapshot, len(saved))
		for id, s := range saved {
			m.snapshots[id] = &s
		}
		m.touched = touched
	}
}

func (m *mockSnapshotRepo) GetByAccountIDs(_ context.Context, ids []int64) (map[int64]*models.PermissionSnapshot, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*models.PermissionSnapshot)
	for _, id := range ids {
		if s, ok := m.snapshots[id]; ok {
			c := *s
			out[id] = &c
		}
	}
	return out, nil
}

func (m *mockSnapshotRepo) Save(_ context.Context, s *models.PermissionSnapshot) error {
	if err := m.saveErr[s.AccountID]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Version = 1
	if prev, ok := m.snapshots[s.AccountID]; ok {
		s.Version = prev.Version + 1
		s.ID = prev.ID
	} else {
		s.ID = s.AccountID
	}
	c := *s
	m.snapshots[s.AccountID] = &c
	return nil
}

func (m *mockSnapshotRepo) TouchSyncTime(_ context.Context, accountID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[accountID] = at
	if s, ok := m.snapshots[accountID]; ok {
		s.LastSyncTime = at
	}
	return nil
}

func (m *mockSnapshotRepo) ListCurrentFacts(context.Context) ([]models.AccountFacts, error) {
	if m.factsErr != nil {
		return nil, m.factsErr
	}
	return m.facts, nil
}

// --- change log ---

type mockChangeLogRepo struct {
	mu        sync.Mutex
	entries   []*models.ChangeLogEntry
	appendErr map[string]error
}

func newMockChangeLogRepo() *mockChangeLogRepo {
	return &mockChangeLogRepo{appendErr: map[string]error{}}
}

func (m *mockChangeLogRepo) checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = m.entries[:n]
	}
}

func (m *mockChangeLogRepo) Append(_ context.Context, e *models.ChangeLogEntry) error {
	if err := m.appendErr[e.Username]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockChangeLogRepo) ListByAccount(_ context.Context, instanceID int64, username string, limit int) ([]*models.ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ChangeLogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.InstanceID == instanceID && e.Username == username {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- classifications and rules ---

type mockClassificationRepo struct {
	mu              sync.Mutex
	classifications []*models.Classification
	rules           []*models.ClassificationRule
	listErr         error
}

func (m *mockClassificationRepo) checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make([]models.ClassificationRule, len(m.rules))
	for i, r := range m.rules {
		saved[i] = *r
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rules = m.rules[:0]
		for i := range saved {
			r := saved[i]
			m.rules = append(m.rules, &r)
		}
	}
}

func (m *mockClassificationRepo) ListClassifications(context.Context) ([]*models.Classification, error) {
	return m.classifications, nil
}

func (m *mockClassificationRepo) CreateClassification(_ context.Context, c *models.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.classifications) + 1)
	m.classifications = append(m.classifications, c)
	return nil
}

func (m *mockClassificationRepo) ListActiveRules(context.Context) ([]*models.ClassificationRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClassificationRule
	for _, r := range m.rules {
		if r.IsActive && r.SupersededAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockClassificationRepo) GetRule(_ context.Context, id int64) (*models.ClassificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
}

func (m *mockClassificationRepo) ListRuleVersions(_ context.Context, groupID string) ([]*models.ClassificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClassificationRule
	for _, r := range m.rules {
		if r.RuleGroupID == groupID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockClassificationRepo) CreateRule(_ context.Context, r *models.ClassificationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rules {
		if existing.RuleGroupID == r.RuleGroupID && existing.RuleVersion == r.RuleVersion {
			return fmt.Errorf("duplicate rule version: %w", apperrors.ErrConflict)
		}
	}
	r.ID = int64(len(m.rules) + 1)
	r.UpdatedAt = r.CreatedAt
	c := *r
	m.rules = append(m.rules, &c)
	return nil
}

func (m *mockClassificationRepo) SupersedeRule(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id && r.SupersededAt == nil {
			t := at
			r.SupersededAt, r.IsActive = &t, false
			return nil
		}
	}
	return fmt.Errorf("rule %d is not the live version: %w", id, apperrors.ErrConflict)
}

func (m *mockClassificationRepo) SetRuleActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id && r.SupersededAt == nil {
			r.IsActive = active
			return nil
		}
	}
	return fmt.Errorf("rule %d: %w", id, apperrors.ErrNotFound)
}

// --- assignments ---

type mockAssignmentRepo struct {
	mu          sync.Mutex
	assignments []*models.ClassificationAssignment
	upserts     int
}

func (m *mockAssignmentRepo) checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make([]models.ClassificationAssignment, len(m.assignments))
	for i, a := range m.assignments {
		saved[i] = *a
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.assignments = m.assignments[:0]
		for i := range saved {
			a := saved[i]
			m.assignments = append(m.assignments, &a)
		}
	}
}

func (m *mockAssignmentRepo) ListActiveAuto(context.Context) ([]*models.ClassificationAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClassificationAssignment
	for _, a := range m.assignments {
		if a.IsActive && a.AssignmentType == models.AssignmentTypeAuto {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockAssignmentRepo) UpsertAuto(_ context.Context, a *models.ClassificationAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	a.AssignmentType, a.IsActive = models.AssignmentTypeAuto, true
	for _, existing := range m.assignments {
		if existing.AccountID == a.AccountID && existing.ClassificationID == a.ClassificationID &&
			existing.AssignmentType == models.AssignmentTypeAuto {
			existing.RuleID, existing.IsActive, existing.UpdatedAt = a.RuleID, true, a.UpdatedAt
			a.ID = existing.ID
			return nil
		}
	}
	a.ID = int64(len(m.assignments) + 1)
	a.AssignedAt = a.UpdatedAt
	c := *a
	m.assignments = append(m.assignments, &c)
	return nil
}

func (m *mockAssignmentRepo) DeactivateAuto(_ context.Context, ids []int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if slices.Contains(ids, a.ID) && a.AssignmentType == models.AssignmentTypeAuto {
			a.IsActive, a.UpdatedAt = false, at
		}
	}
	return nil
}

func (m *mockAssignmentRepo) active(accountID, classificationID int64, assignmentType string) *models.ClassificationAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.AccountID == accountID && a.ClassificationID == classificationID &&
			a.AssignmentType == assignmentType && a.IsActive {
			return a
		}
	}
	return nil
}

// --- daily stats ---

type ruleStatKey struct {
	date       string
	ruleID     int64
	dbType     models.DBType
	instanceID int64
}

type classStatKey struct {
	date             string
	classificationID int64
	dbType           models.DBType
	instanceID       int64
}

// mockStatsRepo keys rows on the natural composite key, as the table does.
type mockStatsRepo struct {
	mu       sync.Mutex
	rules    map[ruleStatKey]models.DailyRuleMatchStat
	classes  map[classStatKey]models.DailyClassificationMatchStat
	classErr error
}

func newMockStatsRepo() *mockStatsRepo {
	return &mockStatsRepo{
		rules:   map[ruleStatKey]models.DailyRuleMatchStat{},
		classes: map[classStatKey]models.DailyClassificationMatchStat{},
	}
}

func (m *mockStatsRepo) checkpoint() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules, classes := maps.Clone(m.rules), maps.Clone(m.classes)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rules, m.classes = rules, classes
	}
}

func (m *mockStatsRepo) UpsertRuleStats(_ context.Context, stats []models.DailyRuleMatchStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stats {
		m.rules[ruleStatKey{s.StatDate.Format(StatDateLayout), s.RuleID, s.DBType, s.InstanceID}] = s
	}
	return nil
}

func (m *mockStatsRepo) UpsertClassificationStats(_ context.Context, stats []models.DailyClassificationMatchStat) error {
	if m.classErr != nil {
		return m.classErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stats {
		m.classes[classStatKey{s.StatDate.Format(StatDateLayout), s.ClassificationID, s.DBType, s.InstanceID}] = s
	}
	return nil
}

func (m *mockStatsRepo) ListRuleStats(_ context.Context, statDate time.Time) ([]models.DailyRuleMatchStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DailyRuleMatchStat
	for k, s := range m.rules {
		if k.date == statDate.Format(StatDateLayout) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStatsRepo) ListClassificationStats(_ context.Context, statDate time.Time) ([]models.DailyClassificationMatchStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DailyClassificationMatchStat
	for k, s := range m.classes {
		if k.date == statDate.Format(StatDateLayout) {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- instances ---

type mockInstanceRepo struct {
	instances []*models.Instance
	listErr   error
}

func (m *mockInstanceRepo) ListActive(context.Context) ([]*models.Instance, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Instance
	for _, i := range m.instances {
		if i.IsActive && !i.IsDeleted() {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *mockInstanceRepo) GetByID(_ context.Context, id int64) (*models.Instance, error) {
	for _, i := range m.instances {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, fmt.Errorf("instance %d: %w", id, apperrors.ErrNotFound)
}

func (m *mockInstanceRepo) Create(_ context.Context, instance *models.Instance) error {
	instance.ID = int64(len(m.instances) + 1)
	m.instances = append(m.instances, instance)
	return nil
}

// --- remote side ---

type mockConnection struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	disconnects int
	version     string
	versionErr  error
}

func (c *mockConnection) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return err
	}
	return nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *mockConnection) ExecuteQuery(context.Context, string, ...any) (*datasource.QueryResult, error) {
	return &datasource.QueryResult{}, nil
}

func (c *mockConnection) GetVersion(context.Context) (string, error) {
	return c.version, c.versionErr
}

type mockAdapter struct {
	mu        sync.Mutex
	accounts  []models.RemoteAccount
	perms     map[string]*models.RemotePermissions
	fetchErr  error
	enrichErr error
	// loadErr fails enrichment of single accounts.
	loadErr  map[string]error
	enriched [][]string
}

func (a *mockAdapter) FetchRemoteAccounts(context.Context, *models.Instance, datasource.Connection) ([]models.RemoteAccount, error) {
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return slices.Clone(a.accounts), nil
}

func (a *mockAdapter) EnrichPermissions(_ context.Context, _ *models.Instance, _ datasource.Connection, accounts []models.RemoteAccount, usernames []string) ([]models.RemoteAccount, error) {
	if a.enrichErr != nil {
		return nil, a.enrichErr
	}
	a.mu.Lock()
	a.enriched = append(a.enriched, usernames)
	a.mu.Unlock()
	return datasource.EnrichSelected(accounts, usernames, func(acct *models.RemoteAccount) error {
		if err := a.loadErr[acct.Username]; err != nil {
			return err
		}
		p, ok := a.perms[acct.Username]
		if !ok {
			p = &models.RemotePermissions{Categories: map[string]any{}}
		}
		acct.Permissions = p
		return nil
	})
}

type mockFactory struct {
	conn       *mockConnection
	adapter    *mockAdapter
	newConnErr error
	newConns   int
}

func (f *mockFactory) NewConnection(*models.Instance) (datasource.Connection, error) {
	f.newConns++
	if f.newConnErr != nil {
		return nil, f.newConnErr
	}
	return f.conn, nil
}

func (f *mockFactory) NewAccountAdapter(models.DBType) (datasource.AccountAdapter, error) {
	return f.adapter, nil
}

func (f *mockFactory) ListTypes() []datasource.AdapterInfo { return nil }

func testInstance() *models.Instance {
	return &models.Instance{
		ID:       10,
		Name:     "mysql-prod-01",
		DBType:   models.DBTypeMySQL,
		Host:     "10.0.0.5",
		Port:     3306,
		IsActive: true,
		Credential: &models.Credential{
			Username: "auditor",
			Password: "secret",
		},
	}
}

func remoteAccounts(names ...string) []models.RemoteAccount {
	out := make([]models.RemoteAccount, len(names))
	for i, n := range names {
		out[i] = models.RemoteAccount{Username: n, IsActive: true}
	}
	return out
}
