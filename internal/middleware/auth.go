package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"google.golang.org/api/option"
)

// Context keys set by RequireAuth.
const (
	KeyUID         = "uid"
	KeyWorkspaceID = "workspace_id"
	KeyAdmin       = "admin"
)

// Dev identity headers, honored only when auth is disabled.
const (
	HeaderUserID      = "X-User-ID"
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderAdmin       = "X-Admin"
)

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
	dev      bool
}

func NewAuthMiddleware(ctx context.Context, projectID, credentialsFile string) (*AuthMiddleware, error) {
	if projectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_ID is not set")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{verifier: client}, nil
}

func NewAuthMiddlewareWithVerifier(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// NewDevAuthMiddleware trusts identity headers. Local use only.
func NewDevAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{dev: true}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.dev {
			uid := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
			if uid == "" {
				return unauthorized(c, "unauthorized")
			}
			ws := strings.TrimSpace(c.Request().Header.Get(HeaderWorkspaceID))
			if ws == "" {
				ws = uid
			}
			setIdentity(c, uid, ws, c.Request().Header.Get(HeaderAdmin) == "true")
			return next(c)
		}

		authz := c.Request().Header.Get("Authorization")
		if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
			return unauthorized(c, "unauthorized")
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		token, err := m.verifier.VerifyIDToken(c.Request().Context(), tokenStr)
		if err != nil {
			return unauthorized(c, "invalid_token")
		}
		ws, _ := token.Claims[KeyWorkspaceID].(string)
		if ws == "" {
			ws = token.UID
		}
		admin, _ := token.Claims[KeyAdmin].(bool)
		setIdentity(c, token.UID, ws, admin)
		return next(c)
	}
}

// RequireAdmin must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if admin, _ := c.Get(KeyAdmin).(bool); !admin {
			return c.JSON(http.StatusForbidden, errorBody("forbidden", "admin only"))
		}
		return next(c)
	}
}

func setIdentity(c echo.Context, uid, workspaceID string, admin bool) {
	c.Set(KeyUID, uid)
	c.Set(KeyWorkspaceID, workspaceID)
	c.Set(KeyAdmin, admin)
}

func unauthorized(c echo.Context, code string) error {
	return c.JSON(http.StatusUnauthorized, errorBody(code, "authentication required"))
}

func errorBody(code, message string) map[string]map[string]string {
	return map[string]map[string]string{"error": {"code": code, "message": message}}
}
