package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"concierge/config"
)

func TestHeaderResolver(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		role    string
		wantErr bool
	}{
		{"valid session", "guest-1", "guest", false},
		{"staff session", "staff-9", "housekeeping", false},
		{"missing user", "", "guest", true},
		{"missing role", "guest-1", "", true},
		{"unknown role", "guest-1", "astronaut", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.user != "" {
				r.Header.Set("X-User-Id", tt.user)
			}
			if tt.role != "" {
				r.Header.Set("X-User-Role", tt.role)
			}

			sess, err := HeaderResolver{}.Resolve(r)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Errorf("error = %v, want ErrUnauthenticated", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve error = %v", err)
			}
			if sess.UserID != tt.user || sess.Role != config.Role(tt.role) {
				t.Errorf("session = %+v, want {%s %s}", sess, tt.user, tt.role)
			}
		})
	}
}

func TestCookieResolver(t *testing.T) {
	verify := func(token string) (Session, error) {
		if token == "valid-token" {
			return Session{UserID: "guest-1", Role: config.RoleGuest}, nil
		}
		return Session{}, errors.New("unknown token")
	}
	resolver := CookieResolver{Verify: verify}

	t.Run("valid cookie", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: "session", Value: "valid-token"})

		sess, err := resolver.Resolve(r)
		if err != nil {
			t.Fatalf("Resolve error = %v", err)
		}
		if sess.UserID != "guest-1" || sess.Role != config.RoleGuest {
			t.Errorf("session = %+v", sess)
		}
	})

	t.Run("missing cookie", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		if _, err := resolver.Resolve(r); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("error = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: "session", Value: "stale-token"})
		if _, err := resolver.Resolve(r); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("error = %v, want ErrUnauthenticated", err)
		}
	})
}

func TestStaticResolver(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)

	sess, err := StaticResolver{Session: Session{UserID: "dev", Role: config.RoleManager}}.Resolve(r)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if sess.UserID != "dev" {
		t.Errorf("session = %+v", sess)
	}

	if _, err := (StaticResolver{}).Resolve(r); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("empty static resolver error = %v, want ErrUnauthenticated", err)
	}
}
