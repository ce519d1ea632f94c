package embed

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef" // 32 bytes

func testIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(testKey, ttl)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func TestNewIssuer_RejectsShortKey(t *testing.T) {
	if _, err := NewIssuer("too-short", time.Minute); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer := testIssuer(t, time.Minute)

	tok, err := issuer.Issue("dash-1", "user-7", []string{"https://partner.example.com"}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.Contains(tok.Token, ".") {
		t.Fatalf("token %q has no signature separator", tok.Token)
	}

	claims, err := issuer.Verify(tok.Token, "dash-1", "https://partner.example.com")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.DashboardID != "dash-1" || claims.UserID != "user-7" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt-claims.IssuedAt != 60 {
		t.Errorf("ttl = %d seconds, want 60", claims.ExpiresAt-claims.IssuedAt)
	}
}

func TestIssue_RequiresOrigin(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	if _, err := issuer.Issue("dash-1", "", nil, 0); err == nil {
		t.Fatal("expected error without allowed origins")
	}
}

func TestIssue_RequiresDashboard(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	if _, err := issuer.Issue("", "", []string{"https://a.example.com"}, 0); err == nil {
		t.Fatal("expected error without dashboard id")
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return start }

	tok, err := issuer.Issue("dash-1", "", []string{"https://a.example.com"}, time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.now = func() time.Time { return start.Add(2 * time.Second) }
	_, err = issuer.Verify(tok.Token, "", "")
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_StillValidBeforeExpiry(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return start }

	tok, _ := issuer.Issue("dash-1", "", []string{"https://a.example.com"}, 30*time.Second)

	issuer.now = func() time.Time { return start.Add(29 * time.Second) }
	if _, err := issuer.Verify(tok.Token, "", ""); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}
}

func TestVerify_OriginNotAllowed(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	tok, _ := issuer.Issue("dash-1", "", []string{"https://a.example.com"}, 0)

	_, err := issuer.Verify(tok.Token, "", "https://evil.example.com")
	if !errors.Is(err, ErrOriginNotAllowed) {
		t.Fatalf("err = %v, want ErrOriginNotAllowed", err)
	}
}

func TestVerify_DashboardMismatch(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	tok, _ := issuer.Issue("dash-1", "", []string{"https://a.example.com"}, 0)

	_, err := issuer.Verify(tok.Token, "dash-2", "")
	if !errors.Is(err, ErrDashboardMismatch) {
		t.Fatalf("err = %v, want ErrDashboardMismatch", err)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	tok, _ := issuer.Issue("dash-1", "", []string{"https://a.example.com"}, 0)

	payloadPart, sigPart, _ := strings.Cut(tok.Token, ".")
	payload, _ := base64.RawURLEncoding.DecodeString(payloadPart)
	var claims Claims
	_ = json.Unmarshal(payload, &claims)
	claims.DashboardID = "dash-2"
	forged, _ := json.Marshal(claims)
	tampered := base64.RawURLEncoding.EncodeToString(forged) + "." + sigPart

	_, err := issuer.Verify(tampered, "", "")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerify_WrongKey(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	other := testIssuer(t, time.Minute)
	other.key = []byte(strings.Repeat("x", 32))

	tok, _ := issuer.Issue("dash-1", "", []string{"https://a.example.com"}, 0)
	if _, err := other.Verify(tok.Token, "", ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	issuer := testIssuer(t, time.Minute)
	for _, token := range []string{"", "no-separator", "!!!.deadbeef", "aGk.deadbeef.extra"} {
		if _, err := issuer.Verify(token, "", ""); err == nil {
			t.Errorf("Verify(%q) succeeded, want error", token)
		}
	}
}
