package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridian-saas/meridian/internal/users"
)

// fakeStore is an in-memory Store. Mutate runs against a copy and
// commits only on success, mirroring transaction rollback.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	roles     map[int64]Role
	perms     map[int64]Permission
	rolePerms map[int64]RolePermission
	userRoles map[int64]UserRole
	accounts  map[int64]users.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:     map[int64]Role{},
		perms:     map[int64]Permission{},
		rolePerms: map[int64]RolePermission{},
		userRoles: map[int64]UserRole{},
		accounts:  map[int64]users.User{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) addUser(active, superuser bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.accounts[id] = users.User{ID: id, Email: "user@example.com", IsActive: active, IsSuperuser: superuser}
	return id
}

func (s *fakeStore) addRole(name string, system bool, state State) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.roles[id] = Role{ID: id, Name: name, IsSystemRole: system, State: state, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	return id
}

func (s *fakeStore) addPermission(name string, state State) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.perms[id] = Permission{ID: id, Name: name, State: state, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	return id
}

func (s *fakeStore) link(roleID, permID int64, state State) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.rolePerms[id] = RolePermission{ID: id, RoleID: roleID, PermissionID: permID, State: state}
	return id
}

func (s *fakeStore) grant(userID, roleID int64, state State) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.userRoles[id] = UserRole{ID: id, UserID: userID, RoleID: roleID, State: state}
	return id
}

func (s *fakeStore) snapshot() *fakeStore {
	clone := newFakeStore()
	clone.nextID = s.nextID
	for k, v := range s.roles {
		clone.roles[k] = v
	}
	for k, v := range s.perms {
		clone.perms[k] = v
	}
	for k, v := range s.rolePerms {
		clone.rolePerms[k] = v
	}
	for k, v := range s.userRoles {
		clone.userRoles[k] = v
	}
	for k, v := range s.accounts {
		clone.accounts[k] = v
	}
	return clone
}

func (s *fakeStore) Mutate(ctx context.Context, fn func(MutationStore) error) error {
	s.mu.Lock()
	work := s.snapshot()
	s.mu.Unlock()
	if err := fn(work); err != nil {
		return err
	}
	s.mu.Lock()
	s.nextID = work.nextID
	s.roles = work.roles
	s.perms = work.perms
	s.rolePerms = work.rolePerms
	s.userRoles = work.userRoles
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) GetRole(ctx context.Context, id int64) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
	}
	return role, nil
}

func (s *fakeStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name && role.State != StateDeleted {
			return role, nil
		}
	}
	return Role{}, &NotFoundError{Entity: "role"}
}

func (s *fakeStore) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Role
	for _, role := range s.roles {
		if filter.State != "" {
			if role.State != filter.State {
				continue
			}
		} else if role.State == StateDeleted {
			continue
		}
		if !filter.IncludeSystem && role.IsSystemRole {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(role.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) RolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Role
	for _, id := range ids {
		if role, ok := s.roles[id]; ok && role.State != StateDeleted {
			out = append(out, role)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[id]
	if !ok {
		return Permission{}, &NotFoundError{Entity: "permission", IDs: []int64{id}}
	}
	return perm, nil
}

func (s *fakeStore) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Permission
	for _, perm := range s.perms {
		if filter.State != "" {
			if perm.State != filter.State {
				continue
			}
		} else if perm.State == StateDeleted {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(perm.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Permission
	for _, id := range ids {
		if perm, ok := s.perms[id]; ok && perm.State != StateDeleted {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (s *fakeStore) UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok || !account.IsActive {
		return nil, nil
	}
	names := map[string]struct{}{}
	for _, ur := range s.userRoles {
		if ur.UserID != userID || !ur.State.Effective() {
			continue
		}
		role, ok := s.roles[ur.RoleID]
		if !ok || !role.State.Effective() {
			continue
		}
		for name := range s.rolePermissionNames(role.ID) {
			names[name] = struct{}{}
		}
	}
	return sortedNames(names), nil
}

func (s *fakeStore) RoleEffectivePermissions(ctx context.Context, roleID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || !role.State.Effective() {
		return nil, nil
	}
	return sortedNames(s.rolePermissionNames(roleID)), nil
}

func (s *fakeStore) rolePermissionNames(roleID int64) map[string]struct{} {
	names := map[string]struct{}{}
	for _, rp := range s.rolePerms {
		if rp.RoleID != roleID || !rp.State.Effective() {
			continue
		}
		perm, ok := s.perms[rp.PermissionID]
		if !ok || !perm.State.Effective() {
			continue
		}
		names[perm.Name] = struct{}{}
	}
	return names
}

func (s *fakeStore) RoleEffectiveUserCount(ctx context.Context, roleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || !role.State.Effective() {
		return 0, nil
	}
	seen := map[int64]struct{}{}
	for _, ur := range s.userRoles {
		if ur.RoleID != roleID || !ur.State.Effective() {
			continue
		}
		if account, ok := s.accounts[ur.UserID]; ok && account.IsActive {
			seen[ur.UserID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (s *fakeStore) CreateRole(ctx context.Context, name, description string, system bool) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name {
			return Role{}, ErrDuplicateName
		}
	}
	id := s.id()
	role := Role{ID: id, Name: name, Description: description, IsSystemRole: system, State: StateActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.roles[id] = role
	return role, nil
}

func (s *fakeStore) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok || role.State == StateDeleted {
		return Role{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
	}
	for otherID, other := range s.roles {
		if otherID != id && other.Name == name {
			return Role{}, ErrDuplicateName
		}
	}
	role.Name, role.Description, role.UpdatedAt = name, description, time.Now()
	s.roles[id] = role
	return role, nil
}

func (s *fakeStore) SetRoleState(ctx context.Context, id int64, state State) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
	}
	role.State, role.UpdatedAt = state, time.Now()
	s.roles[id] = role
	return role, nil
}

func (s *fakeStore) DeleteRoleRow(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return 0, nil
	}
	delete(s.roles, id)
	return 1, nil
}

func (s *fakeStore) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, perm := range s.perms {
		if perm.Name == name {
			return Permission{}, ErrDuplicateName
		}
	}
	id := s.id()
	perm := Permission{ID: id, Name: name, Description: description, State: StateActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.perms[id] = perm
	return perm, nil
}

func (s *fakeStore) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[id]
	if !ok || perm.State == StateDeleted {
		return Permission{}, &NotFoundError{Entity: "permission", IDs: []int64{id}}
	}
	perm.Name, perm.Description, perm.UpdatedAt = name, description, time.Now()
	s.perms[id] = perm
	return perm, nil
}

func (s *fakeStore) SetPermissionState(ctx context.Context, id int64, state State) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[id]
	if !ok {
		return Permission{}, &NotFoundError{Entity: "permission", IDs: []int64{id}}
	}
	perm.State, perm.UpdatedAt = state, time.Now()
	s.perms[id] = perm
	return perm, nil
}

func (s *fakeStore) DeletePermissionRow(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return 0, nil
	}
	delete(s.perms, id)
	return 1, nil
}

func (s *fakeStore) UpsertRolePermission(ctx context.Context, roleID, permissionID int64) (RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rp := range s.rolePerms {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			rp.State, rp.UpdatedAt = StateActive, time.Now()
			s.rolePerms[id] = rp
			return rp, nil
		}
	}
	id := s.id()
	rp := RolePermission{ID: id, RoleID: roleID, PermissionID: permissionID, State: StateActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.rolePerms[id] = rp
	return rp, nil
}

func (s *fakeStore) RevokeRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[int64]struct{}{}
	for _, id := range permissionIDs {
		wanted[id] = struct{}{}
	}
	var changed int64
	for id, rp := range s.rolePerms {
		if rp.RoleID != roleID || rp.State == StateDeleted {
			continue
		}
		if _, ok := wanted[rp.PermissionID]; !ok {
			continue
		}
		rp.State, rp.UpdatedAt = StateDeleted, time.Now()
		s.rolePerms[id] = rp
		changed++
	}
	return changed, nil
}

func (s *fakeStore) DeleteRolePermissionRow(ctx context.Context, roleID, permissionID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rp := range s.rolePerms {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			delete(s.rolePerms, id)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) UpsertUserRole(ctx context.Context, userID, roleID int64) (UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ur := range s.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID {
			ur.State, ur.UpdatedAt = StateActive, time.Now()
			s.userRoles[id] = ur
			return ur, nil
		}
	}
	id := s.id()
	ur := UserRole{ID: id, UserID: userID, RoleID: roleID, State: StateActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.userRoles[id] = ur
	return ur, nil
}

func (s *fakeStore) RevokeUserRoles(ctx context.Context, userID int64, roleIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[int64]struct{}{}
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	var changed int64
	for id, ur := range s.userRoles {
		if ur.UserID != userID || ur.State == StateDeleted {
			continue
		}
		if _, ok := wanted[ur.RoleID]; !ok {
			continue
		}
		ur.State, ur.UpdatedAt = StateDeleted, time.Now()
		s.userRoles[id] = ur
		changed++
	}
	return changed, nil
}

func (s *fakeStore) DeleteUserRoleRow(ctx context.Context, userID, roleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ur := range s.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID {
			delete(s.userRoles, id)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) GetUser(ctx context.Context, id int64) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return account, nil
}

func (s *fakeStore) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, account := range s.accounts {
		if account.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
