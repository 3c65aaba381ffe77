package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/skillbridge/tpm-api/internal/models"
)

func TestCanView(t *testing.T) {
	cases := []struct {
		name     string
		role     models.UserRole
		resource Resource
		want     bool
	}{
		{"superadmin reads master log", models.RoleSuperAdmin, ResourceMasterLog, true},
		{"it support reads master log", models.RoleITSupport, ResourceMasterLog, true},
		{"manager denied master log", models.RoleProgramManager, ResourceMasterLog, false},
		{"trainee denied master log", models.RoleTrainee, ResourceMasterLog, false},
		{"trainee views summaries", models.RoleTrainee, ResourceSummaries, true},
		{"facilitator requests exports", models.RoleFacilitator, ResourceExports, true},
		{"trainee denied exports", models.RoleTrainee, ResourceExports, false},
		{"it support denied sessions", models.RoleITSupport, ResourceSessions, false},
		{"unknown role denied", models.UserRole("GUEST"), ResourcePrograms, false},
		{"unknown resource denied", models.RoleSuperAdmin, Resource("billing"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanView(tc.role, tc.resource))
		})
	}
}

func TestRequireResource(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(claims *models.JWTClaims) *gin.Engine {
		router := gin.New()
		router.GET("/master-log",
			func(c *gin.Context) {
				if claims != nil {
					c.Set(ContextUserKey, claims)
				}
			},
			RequireResource(ResourceMasterLog),
			func(c *gin.Context) { c.Status(http.StatusOK) },
		)
		return router
	}

	t.Run("allows permitted role", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/master-log", nil)
		newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleITSupport}).ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("rejects forbidden role", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/master-log", nil)
		newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleTrainee}).ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
	})

	t.Run("rejects missing claims", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/master-log", nil)
		newRouter(nil).ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})
}
