package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/reqctx"
)

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, token string) (*auth.Token, error) {
	switch token {
	case "buyer":
		return &auth.Token{UID: "u1", Claims: map[string]interface{}{"workspace_id": "ws1"}}, nil
	case "admin":
		return &auth.Token{UID: "root", Claims: map[string]interface{}{"admin": true}}, nil
	}
	return nil, errors.New("bad token")
}

func whoami(c echo.Context) error {
	uid, _ := c.Get(KeyUID).(string)
	ws, _ := c.Get(KeyWorkspaceID).(string)
	return c.String(http.StatusOK, uid+"/"+ws)
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name   string
		mw     *AuthMiddleware
		header map[string]string
		status int
		body   string
	}{
		{"no header", NewAuthMiddlewareWithVerifier(stubVerifier{}), nil, http.StatusUnauthorized, ""},
		{"bad token", NewAuthMiddlewareWithVerifier(stubVerifier{}), map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"workspace claim", NewAuthMiddlewareWithVerifier(stubVerifier{}), map[string]string{"Authorization": "Bearer buyer"}, http.StatusOK, "u1/ws1"},
		{"uid as workspace", NewAuthMiddlewareWithVerifier(stubVerifier{}), map[string]string{"Authorization": "Bearer admin"}, http.StatusOK, "root/root"},
		{"dev headers", NewDevAuthMiddleware(), map[string]string{HeaderUserID: "dev", HeaderWorkspaceID: "wsd"}, http.StatusOK, "dev/wsd"},
		{"dev without user", NewDevAuthMiddleware(), nil, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			if err := tt.mw.RequireAuth(whoami)(e.NewContext(req, rec)); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status {
				t.Fatalf("got=%d want=%d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("got=%q want=%q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	mw := NewAuthMiddlewareWithVerifier(stubVerifier{})
	h := mw.RequireAuth(mw.RequireAdmin(whoami))
	for token, want := range map[string]int{"buyer": http.StatusForbidden, "admin": http.StatusOK} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(req, rec)); err != nil {
			t.Fatal(err)
		}
		if rec.Code != want {
			t.Fatalf("%s: got=%d want=%d", token, rec.Code, want)
		}
	}
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	var seen string
	h := RequestID(func(c echo.Context) error {
		seen = reqctx.RID(c.Request().Context())
		return nil
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec := httptest.NewRecorder()
	_ = h(e.NewContext(req, rec))
	if seen != "abc" || rec.Header().Get(HeaderRequestID) != "abc" {
		t.Fatalf("seen=%q header=%q", seen, rec.Header().Get(HeaderRequestID))
	}

	rec = httptest.NewRecorder()
	_ = h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	if seen == "" || seen == "abc" {
		t.Fatalf("generated id got=%q", seen)
	}
}
