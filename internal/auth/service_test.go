package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(Config{JWTSecret: "test-secret"})
}

func TestRegister(t *testing.T) {
	t.Run("should create an operator", func(t *testing.T) {
		s := newTestService(t)

		op, err := s.Register("alice", "hunter2", RoleOperator)
		require.NoError(t, err)

		assert.NotEmpty(t, op.ID)
		assert.Equal(t, "alice", op.Name)
		assert.Equal(t, RoleOperator, op.Role)
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Register("alice", "hunter2", RoleViewer)
		require.NoError(t, err)

		_, err = s.Register("alice", "other", RoleViewer)
		assert.ErrorIs(t, err, ErrOperatorExists)
	})

	t.Run("should reject unknown roles", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Register("bob", "pw", "superuser")
		assert.Error(t, err)
	})
}

func TestLogin(t *testing.T) {
	t.Run("should issue a verifiable token", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Register("alice", "hunter2", RoleAdmin)
		require.NoError(t, err)

		token, err := s.Login("alice", "hunter2")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		claims, err := s.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Name)
		assert.Equal(t, RoleAdmin, claims.Role)
		assert.NotEmpty(t, claims.OperatorID)
	})

	t.Run("should reject a wrong password", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Register("alice", "hunter2", RoleViewer)
		require.NoError(t, err)

		_, err = s.Login("alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	})

	t.Run("should reject unknown operators", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Login("nobody", "pw")
		assert.ErrorIs(t, err, ErrOperatorNotFound)
	})
}

func TestVerifyToken(t *testing.T) {
	t.Run("should strip a bearer prefix", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Register("alice", "pw", RoleViewer)
		require.NoError(t, err)
		token, err := s.Login("alice", "pw")
		require.NoError(t, err)

		claims, err := s.VerifyToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Name)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.VerifyToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject a token from another secret", func(t *testing.T) {
		other := NewService(Config{JWTSecret: "different"})
		_, err := other.Register("alice", "pw", RoleViewer)
		require.NoError(t, err)
		token, err := other.Login("alice", "pw")
		require.NoError(t, err)

		_, err = newTestService(t).VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		s := NewService(Config{JWTSecret: "test-secret", TokenTTL: -time.Minute})
		_, err := s.Register("alice", "pw", RoleViewer)
		require.NoError(t, err)
		token, err := s.Login("alice", "pw")
		require.NoError(t, err)

		_, err = s.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRequireRole(t *testing.T) {
	s := newTestService(t)

	t.Run("should allow equal and higher roles", func(t *testing.T) {
		assert.NoError(t, s.RequireRole(&Claims{Role: RoleAdmin}, RoleViewer))
		assert.NoError(t, s.RequireRole(&Claims{Role: RoleOperator}, RoleOperator))
	})

	t.Run("should refuse lower roles", func(t *testing.T) {
		assert.ErrorIs(t, s.RequireRole(&Claims{Role: RoleViewer}, RoleOperator), ErrForbidden)
		assert.ErrorIs(t, s.RequireRole(&Claims{Role: RoleOperator}, RoleAdmin), ErrForbidden)
	})
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	setup := func(t *testing.T, role string) (*Service, *gin.Engine) {
		t.Helper()
		s := newTestService(t)
		router := gin.New()
		router.GET("/protected", s.Middleware(role), func(c *gin.Context) {
			claims := c.MustGet("claims").(*Claims)
			c.JSON(http.StatusOK, gin.H{"name": claims.Name})
		})
		return s, router
	}

	do := func(router *gin.Engine, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("should pass a valid token through", func(t *testing.T) {
		s, router := setup(t, RoleViewer)
		_, err := s.Register("alice", "pw", RoleViewer)
		require.NoError(t, err)
		token, err := s.Login("alice", "pw")
		require.NoError(t, err)

		w := do(router, token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "alice")
	})

	t.Run("should return 401 without a token", func(t *testing.T) {
		_, router := setup(t, RoleViewer)
		assert.Equal(t, http.StatusUnauthorized, do(router, "").Code)
	})

	t.Run("should return 401 for an invalid token", func(t *testing.T) {
		_, router := setup(t, RoleViewer)
		assert.Equal(t, http.StatusUnauthorized, do(router, "bogus").Code)
	})

	t.Run("should return 403 for an insufficient role", func(t *testing.T) {
		s, router := setup(t, RoleAdmin)
		_, err := s.Register("viewer", "pw", RoleViewer)
		require.NoError(t, err)
		token, err := s.Login("viewer", "pw")
		require.NoError(t, err)

		assert.Equal(t, http.StatusForbidden, do(router, token).Code)
	})
}
