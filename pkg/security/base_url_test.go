package security

import "testing"

func TestValidateBaseURLRejectsLocalhostByDefault(t *testing.T) {
	if _, err := ValidateBaseURL("https://localhost:8000", BaseURLPolicy{}); err == nil {
		t.Fatal("expected localhost to be rejected")
	}
}

func TestValidateBaseURLAllowsLocalDevelopment(t *testing.T) {
	u, err := ValidateBaseURL("http://127.0.0.1:8000/", LocalDevelopmentPolicy)
	if err != nil {
		t.Fatalf("expected local http URL to be allowed: %v", err)
	}
	if got := u.String(); got != "http://127.0.0.1:8000" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", got)
	}
}

func TestValidateBaseURLRejectsPlainHTTP(t *testing.T) {
	if _, err := ValidateBaseURL("http://api.example.com", BaseURLPolicy{}); err == nil {
		t.Fatal("expected http to be rejected")
	}
}

func TestValidateBaseURLRejectsEmbeddedCredentials(t *testing.T) {
	if _, err := ValidateBaseURL("https://user:pw@api.example.com", BaseURLPolicy{}); err == nil {
		t.Fatal("expected userinfo to be rejected")
	}
	if _, err := ValidateBaseURL("https://api.example.com/?token=x", BaseURLPolicy{}); err == nil {
		t.Fatal("expected query string to be rejected")
	}
}

func TestValidateBaseURLRejectsZonedIPv6ByDefault(t *testing.T) {
	if _, err := ValidateBaseURL("https://[fe80::1%25eth0]/", BaseURLPolicy{}); err == nil {
		t.Fatal("expected zone-literal IPv6 host to be rejected")
	}
}

func TestValidateBaseURLKeepsPathPrefix(t *testing.T) {
	u, err := ValidateBaseURL("https://api.example.com/velocity/", BaseURLPolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Path != "/velocity" {
		t.Fatalf("unexpected path %q", u.Path)
	}
}
