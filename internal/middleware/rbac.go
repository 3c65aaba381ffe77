package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/skillbridge/tpm-api/internal/models"
	appErrors "github.com/skillbridge/tpm-api/pkg/errors"
	"github.com/skillbridge/tpm-api/pkg/response"
)

// Resource names a guarded area of the API for visibility checks.
type Resource string

const (
	ResourcePrograms   Resource = "programs"
	ResourceSessions   Resource = "sessions"
	ResourceAttendance Resource = "attendance"
	ResourceSummaries  Resource = "summaries"
	ResourceMasterLog  Resource = "master_log"
	ResourceExports    Resource = "exports"
	ResourceUsers      Resource = "users"
)

var resourceRoles = map[Resource][]models.UserRole{
	ResourcePrograms:   {models.RoleSuperAdmin, models.RoleProgramManager, models.RoleFacilitator, models.RoleTrainee, models.RoleITSupport},
	ResourceSessions:   {models.RoleSuperAdmin, models.RoleProgramManager, models.RoleFacilitator, models.RoleTrainee},
	ResourceAttendance: {models.RoleSuperAdmin, models.RoleProgramManager, models.RoleFacilitator, models.RoleTrainee},
	ResourceSummaries:  {models.RoleSuperAdmin, models.RoleProgramManager, models.RoleFacilitator, models.RoleTrainee, models.RoleITSupport},
	ResourceMasterLog:  {models.RoleSuperAdmin, models.RoleITSupport},
	ResourceExports:    {models.RoleSuperAdmin, models.RoleProgramManager, models.RoleFacilitator},
	ResourceUsers:      {models.RoleSuperAdmin, models.RoleITSupport},
}

// CanView reports whether a role may reach a resource at all. It is a pure
// coarse gate; row-level ownership checks live in the services.
func CanView(role models.UserRole, resource Resource) bool {
	for _, allowed := range resourceRoles[resource] {
		if allowed == role {
			return true
		}
	}
	return false
}

// RequireResource blocks requests whose role fails the CanView gate.
func RequireResource(resource Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := ScopeFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !CanView(scope.Role, resource) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRoles restricts a route to an explicit role list.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		scope, ok := ScopeFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[scope.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
