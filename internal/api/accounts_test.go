package api

import (
	"net/http"
	"testing"
)

func TestSignupCreatesAccountAndIssuesToken(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":        "Ada@Example.com",
		"display_name": "Ada",
		"password":     "correct horse battery",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	body := env.decode(t, resp)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("response missing user: %v", body)
	}
	if user["email"] != "ada@example.com" {
		t.Fatalf("email = %v, want lowercased", user["email"])
	}
	if user["display_name"] != "Ada" {
		t.Fatalf("display_name = %v", user["display_name"])
	}
	if token, _ := body["token"].(string); token == "" {
		t.Fatal("expected a session token")
	}
	if _, ok := body["expires_at"]; !ok {
		t.Fatal("expected expires_at alongside the token")
	}
}

func TestSignupWithoutSessionsOmitsToken(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct horse battery",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	body := env.decode(t, resp)
	if _, ok := body["token"]; ok {
		t.Fatalf("token should be absent when sessions are disabled: %v", body)
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, map[string]string{})
	env.signup(t, "ada@example.com", "correct horse battery")

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "ada@example.com",
		"password": "another password",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "EMAIL_TAKEN" {
		t.Fatalf("error_code = %v", code)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "ada@example.com",
		"password": "short",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "PASSWORD_TOO_SHORT" {
		t.Fatalf("error_code = %v", code)
	}
}

func TestSignupRejectsInvalidEmail(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "not-an-email",
		"password": "correct horse battery",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "EMAIL_INVALID" {
		t.Fatalf("error_code = %v", code)
	}
}

func TestSignupRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "",
		`{"email":"ada@example.com","password":"correct horse battery","admin":true}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "INVALID_JSON" {
		t.Fatalf("error_code = %v", code)
	}
}

func TestSigninRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})
	env.signup(t, "ada@example.com", "correct horse battery")

	resp := env.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "wrong password entirely",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	body := env.decode(t, resp)
	if body["error_code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
	if body["message"] != "email or password is incorrect" {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestSigninUnknownEmailMatchesWrongPasswordResponse(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})

	resp := env.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]any{
		"email":    "nobody@example.com",
		"password": "correct horse battery",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "INVALID_CREDENTIALS" {
		t.Fatalf("error_code = %v", code)
	}
}

func TestSignoutRevokesSessionToken(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})
	token := env.signup(t, "ada@example.com", "correct horse battery")

	before := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	if before.Code != http.StatusOK {
		t.Fatalf("me before signout = %d, body = %s", before.Code, before.Body.String())
	}

	signout := env.do(t, http.MethodPost, "/v1/auth/signout", token, nil)
	if signout.Code != http.StatusOK {
		t.Fatalf("signout status = %d, body = %s", signout.Code, signout.Body.String())
	}

	after := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("me after signout = %d, body = %s", after.Code, after.Body.String())
	}
}

func TestMeReturnsCurrentAccount(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})
	token := env.signup(t, "grace@example.com", "correct horse battery")

	resp := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	user, ok := env.decode(t, resp)["user"].(map[string]any)
	if !ok {
		t.Fatal("response missing user")
	}
	if user["email"] != "grace@example.com" {
		t.Fatalf("email = %v", user["email"])
	}
}

func TestMeWithoutIdentityIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	resp := env.do(t, http.MethodGet, "/v1/auth/me", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "USER_REQUIRED" {
		t.Fatalf("error_code = %v", code)
	}
}

func TestMeUnknownUserIs404(t *testing.T) {
	env := newTestEnv(t, map[string]string{})

	resp := env.doAs(t, http.MethodGet, "/v1/auth/me", "ghost-user", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if code := env.decode(t, resp)["error_code"]; code != "USER_NOT_FOUND" {
		t.Fatalf("error_code = %v", code)
	}
}
