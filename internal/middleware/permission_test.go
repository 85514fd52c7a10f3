package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/database"
	"github.com/charlesng35/kbguard/internal/database/testutil"
	"github.com/charlesng35/kbguard/internal/permissions"
	"github.com/charlesng35/kbguard/internal/store"
)

func newChecker(t *testing.T) *permissions.Checker {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData(database.WithBootstrapSuperAdmins("t1", "root")))
	grants, err := store.NewGrantStore(db)
	require.NoError(t, err)
	checker, err := permissions.NewChecker(grants, permissions.WithRetryBackoff(0))
	require.NoError(t, err)
	return checker
}

func TestRequireCapability(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newJWT(t)
	checker := newChecker(t)

	r := gin.New()
	r.GET("/admin", Auth(jwtSvc),
		RequireCapability(checker, nil, permissions.ResourceTenant, permissions.CapabilityAdmin),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		user   string
		tenant string
		query  string
		status int
	}{
		{name: "super admin via claim", user: "root", tenant: "t1", status: http.StatusNoContent},
		{name: "super admin via query", user: "root", query: "?tenant_id=t1", status: http.StatusNoContent},
		{name: "other tenant", user: "root", query: "?tenant_id=t2", status: http.StatusForbidden},
		{name: "plain user", user: "u1", tenant: "t1", status: http.StatusForbidden},
		{name: "missing tenant", user: "u1", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin"+tc.query, nil)
			req.Header.Set("Authorization", bearer(t, jwtSvc, tc.user, tc.tenant))
			r.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireCapabilityWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/secure", RequireCapability(&permissions.Checker{}, nil, permissions.ResourceTenant, permissions.CapabilityAdmin),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
