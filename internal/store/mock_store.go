// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests of higher layers to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu           sync.RWMutex
	roles        map[string]*Role                // keyed by role ID
	templates    map[string]*BehaviorTemplate    // keyed by template ID
	agents       map[string]*Agent               // keyed by agent row ID
	agentIndex   map[string]string               // keyed by external agent_id -> row ID
	builds       map[string]*AgentBuild          // keyed by build ID
	activities   []*AgentActivity                // append-only
	applications map[string]*ApplicationTemplate // keyed by application ID
	servers      map[string]*Server              // keyed by server name
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		roles:        make(map[string]*Role),
		templates:    make(map[string]*BehaviorTemplate),
		agents:       make(map[string]*Agent),
		agentIndex:   make(map[string]string),
		builds:       make(map[string]*AgentBuild),
		applications: make(map[string]*ApplicationTemplate),
		servers:      make(map[string]*Server),
	}
}

// CreateRole stores a new role.
func (m *MockStore) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.IsActive && r.Name == role.Name {
			return ErrDuplicateName
		}
	}
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	role.IsActive = true

	r := *role
	m.roles[r.ID] = &r
	return nil
}

// GetRole retrieves an active role by ID.
func (m *MockStore) GetRole(ctx context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[id]
	if !ok || !r.IsActive {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// GetRoleAny retrieves a role by ID regardless of active flag.
func (m *MockStore) GetRoleAny(ctx context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// ListRoles returns active roles, optionally filtered by category.
func (m *MockStore) ListRoles(ctx context.Context, category string, limit, offset int) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var roles []*Role
	for _, r := range m.roles {
		if !r.IsActive {
			continue
		}
		if category != "" && r.Category != category {
			continue
		}
		result := *r
		roles = append(roles, &result)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return paginate(roles, limit, offset), nil
}

// UpdateRole updates an active role.
func (m *MockStore) UpdateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.roles[role.ID]
	if !ok || !existing.IsActive {
		return ErrNotFound
	}
	for _, r := range m.roles {
		if r.ID != role.ID && r.IsActive && r.Name == role.Name {
			return ErrDuplicateName
		}
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.Category = role.Category
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// SoftDeleteRole deactivates a role unless active agents reference it.
func (m *MockStore) SoftDeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.roles[id]
	if !ok || !r.IsActive {
		return ErrNotFound
	}
	for _, a := range m.agents {
		if a.RoleID == id && agentHoldsRole(a.Status) {
			return ErrRoleInUse
		}
	}
	r.IsActive = false
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func agentHoldsRole(status AgentStatus) bool {
	switch status {
	case AgentBuilding, AgentDeploying, AgentDeployed, AgentActive:
		return true
	}
	return false
}

// CreateTemplate stores a new behavior template.
func (m *MockStore) CreateTemplate(ctx context.Context, tmpl *BehaviorTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.templates {
		if t.IsActive && t.RoleID == tmpl.RoleID && t.Name == tmpl.Name {
			return ErrDuplicateName
		}
	}
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	if tmpl.Version == "" {
		tmpl.Version = "1.0"
	}
	now := time.Now().UTC()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	tmpl.UpdatedAt = now
	tmpl.IsActive = true

	t := *tmpl
	m.templates[t.ID] = &t
	return nil
}

// GetTemplate retrieves an active template by ID.
func (m *MockStore) GetTemplate(ctx context.Context, id string) (*BehaviorTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok || !t.IsActive {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// GetTemplateAny retrieves a template by ID regardless of active flag.
func (m *MockStore) GetTemplateAny(ctx context.Context, id string) (*BehaviorTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ListTemplates returns active templates matching the filter.
func (m *MockStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*BehaviorTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var templates []*BehaviorTemplate
	for _, t := range m.templates {
		if !t.IsActive {
			continue
		}
		if filter.OSType != "" && t.OSType != filter.OSType {
			continue
		}
		if filter.RoleID != "" && t.RoleID != filter.RoleID {
			continue
		}
		result := *t
		templates = append(templates, &result)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return paginate(templates, filter.Limit, filter.Offset), nil
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agentIndex[agent.AgentID]; exists {
		return ErrDuplicateName
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Status == "" {
		agent.Status = AgentConfigured
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	a := *agent
	m.agents[a.ID] = &a
	m.agentIndex[a.AgentID] = a.ID
	return nil
}

// GetAgent retrieves an agent by row ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetAgentByAgentID retrieves an agent by external identifier.
func (m *MockStore) GetAgentByAgentID(ctx context.Context, agentID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.agentIndex[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.agents[id]
	return &result, nil
}

// ListAgents returns agents matching the filter, newest first.
func (m *MockStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.OSType != "" && a.OSType != filter.OSType {
			continue
		}
		if filter.RoleID != "" && a.RoleID != filter.RoleID {
			continue
		}
		result := *a
		agents = append(agents, &result)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].CreatedAt.After(agents[j].CreatedAt) })
	return paginate(agents, filter.Limit, filter.Offset), nil
}

// UpdateAgentStatus writes only the status field.
func (m *MockStore) UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// SetAgentDeployOutcome writes the deployment outcome fields.
func (m *MockStore) SetAgentDeployOutcome(ctx context.Context, id string, status AgentStatus, injectionTarget string, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if injectionTarget != "" {
		a.InjectionTarget = injectionTarget
	}
	if lastSeen != nil {
		ls := *lastSeen
		a.LastSeen = &ls
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// TouchAgentHeartbeat writes the heartbeat tracker's fields.
func (m *MockStore) TouchAgentHeartbeat(ctx context.Context, id string, status AgentStatus, lastSeen time.Time, lastActivity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	ls := lastSeen
	a.LastSeen = &ls
	if lastActivity != "" {
		a.LastActivity = lastActivity
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ListAgentsSeenSince returns agents in the status seen at or after cutoff.
func (m *MockStore) ListAgentsSeenSince(ctx context.Context, status AgentStatus, cutoff time.Time) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if a.Status != status || a.LastSeen == nil || a.LastSeen.Before(cutoff) {
			continue
		}
		result := *a
		agents = append(agents, &result)
	}
	return agents, nil
}

// ListAgentsStale returns agents in the status seen before cutoff.
func (m *MockStore) ListAgentsStale(ctx context.Context, status AgentStatus, cutoff time.Time) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if a.Status != status || a.LastSeen == nil || !a.LastSeen.Before(cutoff) {
			continue
		}
		result := *a
		agents = append(agents, &result)
	}
	return agents, nil
}

// CountAgents returns the total agent count.
func (m *MockStore) CountAgents(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents), nil
}

// CountAgentsByStatus returns agent counts grouped by status.
func (m *MockStore) CountAgentsByStatus(ctx context.Context) (StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := StatusCounts{}
	for _, a := range m.agents {
		counts[string(a.Status)]++
	}
	return counts, nil
}

// CountActiveAgentsForRole counts agents holding a reference to the role.
func (m *MockStore) CountActiveAgentsForRole(ctx context.Context, roleID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.agents {
		if a.RoleID == roleID && agentHoldsRole(a.Status) {
			n++
		}
	}
	return n, nil
}

// CreateBuildExclusive inserts a build, enforcing the in-flight invariant.
func (m *MockStore) CreateBuildExclusive(ctx context.Context, build *AgentBuild, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force {
		for _, b := range m.builds {
			if b.AgentRef == build.AgentRef &&
				(b.BuildStatus == BuildPending || b.BuildStatus == BuildBuilding) {
				return ErrBuildInFlight
			}
		}
	}
	if build.ID == "" {
		build.ID = uuid.New().String()
	}
	if build.BuildStatus == "" {
		build.BuildStatus = BuildPending
	}
	if build.CreatedAt.IsZero() {
		build.CreatedAt = time.Now().UTC()
	}

	b := *build
	m.builds[b.ID] = &b
	return nil
}

// GetBuild retrieves a build by ID.
func (m *MockStore) GetBuild(ctx context.Context, id string) (*AgentBuild, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.builds[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *b
	return &result, nil
}

// ListBuilds returns builds matching the filter, newest first.
func (m *MockStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]*AgentBuild, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var builds []*AgentBuild
	for _, b := range m.builds {
		if filter.Status != "" && b.BuildStatus != filter.Status {
			continue
		}
		if filter.AgentRef != "" && b.AgentRef != filter.AgentRef {
			continue
		}
		result := *b
		builds = append(builds, &result)
	}
	sort.Slice(builds, func(i, j int) bool { return builds[i].CreatedAt.After(builds[j].CreatedAt) })
	return paginate(builds, filter.Limit, filter.Offset), nil
}

// MarkBuildBuilding moves a pending build into the building state.
func (m *MockStore) MarkBuildBuilding(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.builds[id]
	if !ok {
		return ErrNotFound
	}
	b.BuildStatus = BuildBuilding
	return nil
}

// CompleteBuild writes the terminal fields of a build.
func (m *MockStore) CompleteBuild(ctx context.Context, id string, outcome BuildOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.builds[id]
	if !ok {
		return ErrNotFound
	}
	b.BuildStatus = outcome.Status
	b.BinaryPath = outcome.BinaryPath
	b.BinarySize = outcome.BinarySize
	b.BuildLog = outcome.BuildLog
	b.BuildTime = outcome.BuildTime
	completedAt := outcome.CompletedAt
	b.CompletedAt = &completedAt
	return nil
}

// DeleteBuild removes a completed build record.
func (m *MockStore) DeleteBuild(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.builds[id]
	if !ok {
		return ErrNotFound
	}
	if b.BuildStatus == BuildPending || b.BuildStatus == BuildBuilding {
		return ErrBuildActive
	}
	delete(m.builds, id)
	return nil
}

// CountBuildsByStatus returns build counts grouped by status.
func (m *MockStore) CountBuildsByStatus(ctx context.Context) (StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := StatusCounts{}
	for _, b := range m.builds {
		counts[string(b.BuildStatus)]++
	}
	return counts, nil
}

// AppendActivity appends a log entry.
func (m *MockStore) AppendActivity(ctx context.Context, activity *AgentActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}
	if activity.ID == "" {
		activity.ID = ulid.MustNew(ulid.Timestamp(activity.Timestamp), ulid.DefaultEntropy()).String()
	}

	a := *activity
	m.activities = append(m.activities, &a)
	return nil
}

// ListActivities returns entries matching the filter, newest first.
func (m *MockStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]*AgentActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var activities []*AgentActivity
	for _, a := range m.activities {
		if filter.AgentRef != "" && a.AgentRef != filter.AgentRef {
			continue
		}
		if filter.ActivityType != "" && a.ActivityType != filter.ActivityType {
			continue
		}
		result := *a
		activities = append(activities, &result)
	}
	sort.Slice(activities, func(i, j int) bool {
		return activities[i].Timestamp.After(activities[j].Timestamp)
	})
	if filter.Limit > 0 && len(activities) > filter.Limit {
		activities = activities[:filter.Limit]
	}
	return activities, nil
}

// CreateApplication stores a new application template.
func (m *MockStore) CreateApplication(ctx context.Context, app *ApplicationTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.applications {
		if existing.IsActive && existing.Name == app.Name {
			return ErrDuplicateName
		}
	}
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.Version == "" {
		app.Version = "1.0"
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	app.IsActive = true

	a := *app
	m.applications[a.ID] = &a
	return nil
}

// GetApplication retrieves an active application template by ID.
func (m *MockStore) GetApplication(ctx context.Context, id string) (*ApplicationTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.applications[id]
	if !ok || !a.IsActive {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListApplications returns active application templates matching the filters.
func (m *MockStore) ListApplications(ctx context.Context, category string, osType OSType, limit, offset int) ([]*ApplicationTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var apps []*ApplicationTemplate
	for _, a := range m.applications {
		if !a.IsActive {
			continue
		}
		if category != "" && a.Category != category {
			continue
		}
		if osType != "" && a.OSType != osType {
			continue
		}
		result := *a
		apps = append(apps, &result)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return paginate(apps, limit, offset), nil
}

// ListApplicationCategories returns distinct active categories.
func (m *MockStore) ListApplicationCategories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	var categories []string
	for _, a := range m.applications {
		if !a.IsActive || a.Category == "" || seen[a.Category] {
			continue
		}
		seen[a.Category] = true
		categories = append(categories, a.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// CreateServer stores a new server record.
func (m *MockStore) CreateServer(ctx context.Context, srv *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.servers[srv.Name]; exists {
		return ErrDuplicateName
	}
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}

	s := *srv
	m.servers[s.Name] = &s
	return nil
}

// GetServerByName retrieves a server by name.
func (m *MockStore) GetServerByName(ctx context.Context, name string) (*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[name]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// ListServers returns all server records ordered by name.
func (m *MockStore) ListServers(ctx context.Context) ([]*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var servers []*Server
	for _, s := range m.servers {
		result := *s
		servers = append(servers, &result)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// paginate applies limit/offset to a sorted slice.
func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
