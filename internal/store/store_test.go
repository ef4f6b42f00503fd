package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// createTestRole inserts a role and returns it.
func createTestRole(t *testing.T, s Store, name string) *Role {
	t.Helper()
	role := &Role{Name: name, Description: "test role", Category: "development"}
	require.NoError(t, s.CreateRole(context.Background(), role))
	return role
}

// createTestTemplate inserts a behavior template for the role and returns it.
func createTestTemplate(t *testing.T, s Store, roleID, name string, osType OSType) *BehaviorTemplate {
	t.Helper()
	tmpl := &BehaviorTemplate{
		Name:   name,
		RoleID: roleID,
		OSType: osType,
		TemplateData: map[string]any{
			"schedule":     map[string]any{"start_time": "09:00", "end_time": "18:00"},
			"applications": []any{"Visual Studio Code", "Google Chrome"},
		},
	}
	require.NoError(t, s.CreateTemplate(context.Background(), tmpl))
	return tmpl
}

// createTestAgent inserts an agent referencing the role and template.
func createTestAgent(t *testing.T, s Store, agentID string, roleID, templateID string) *Agent {
	t.Helper()
	agent := &Agent{
		AgentID:    agentID,
		Name:       "test agent",
		RoleID:     roleID,
		TemplateID: templateID,
		OSType:     OSLinux,
	}
	require.NoError(t, s.CreateAgent(context.Background(), agent))
	return agent
}

func TestStore_CreateRole(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")

	retrieved, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Developer", retrieved.Name)
	assert.True(t, retrieved.IsActive)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestStore_CreateRole_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRole(t, store, "Developer")

	err := store.CreateRole(ctx, &Role{Name: "Developer", Category: "other"})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestStore_CreateRole_NameReusableAfterDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	require.NoError(t, store.SoftDeleteRole(ctx, role.ID))

	// Uniqueness only applies among active rows.
	err := store.CreateRole(ctx, &Role{Name: "Developer", Category: "development"})
	assert.NoError(t, err)
}

func TestStore_GetRole_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRole(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SoftDeleteRole(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Analyst")
	require.NoError(t, store.SoftDeleteRole(ctx, role.ID))

	// Active lookups no longer see it...
	_, err := store.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// ...but stale references remain resolvable.
	stale, err := store.GetRoleAny(ctx, role.ID)
	require.NoError(t, err)
	assert.False(t, stale.IsActive)
}

func TestStore_SoftDeleteRole_InUse(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	tmpl := createTestTemplate(t, store, role.ID, "dev-linux", OSLinux)
	agent := createTestAgent(t, store, "USR0000001", role.ID, tmpl.ID)

	require.NoError(t, store.UpdateAgentStatus(ctx, agent.ID, AgentDeployed))

	err := store.SoftDeleteRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrRoleInUse)
}

func TestStore_UpdateRole(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	role.Description = "updated"
	role.Category = "engineering"
	require.NoError(t, store.UpdateRole(ctx, role))

	retrieved, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", retrieved.Description)
	assert.Equal(t, "engineering", retrieved.Category)
}

func TestStore_ListRoles_CategoryFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRole(ctx, &Role{Name: "Developer", Category: "development"}))
	require.NoError(t, store.CreateRole(ctx, &Role{Name: "Accountant", Category: "finance"}))

	roles, err := store.ListRoles(ctx, "development", 0, 0)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Developer", roles[0].Name)
}

func TestStore_CreateTemplate_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	tmpl := createTestTemplate(t, store, role.ID, "dev-linux", OSLinux)

	retrieved, err := store.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-linux", retrieved.Name)
	assert.Equal(t, OSLinux, retrieved.OSType)
	assert.Equal(t, "1.0", retrieved.Version)

	schedule, ok := retrieved.TemplateData["schedule"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "09:00", schedule["start_time"])
}

func TestStore_CreateTemplate_DuplicateNameWithinRole(t *testing.T) {
	store := setupTestStore(t)

	role := createTestRole(t, store, "Developer")
	createTestTemplate(t, store, role.ID, "dev-linux", OSLinux)

	err := store.CreateTemplate(context.Background(), &BehaviorTemplate{
		Name:   "dev-linux",
		RoleID: role.ID,
		OSType: OSLinux,
	})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestStore_CreateTemplate_SameNameDifferentRole(t *testing.T) {
	store := setupTestStore(t)

	roleA := createTestRole(t, store, "Developer")
	roleB := createTestRole(t, store, "Analyst")

	createTestTemplate(t, store, roleA.ID, "daily", OSLinux)
	createTestTemplate(t, store, roleB.ID, "daily", OSLinux)
}

func TestStore_ListTemplates_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	role := createTestRole(t, store, "Developer")
	createTestTemplate(t, store, role.ID, "dev-linux", OSLinux)
	createTestTemplate(t, store, role.ID, "dev-windows", OSWindows)

	linux, err := store.ListTemplates(ctx, TemplateFilter{OSType: OSLinux})
	require.NoError(t, err)
	require.Len(t, linux, 1)
	assert.Equal(t, "dev-linux", linux[0].Name)

	all, err := store.ListTemplates(ctx, TemplateFilter{RoleID: role.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
