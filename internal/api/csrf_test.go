package api

import "testing"

func TestCSRFTokenRoundTrip(t *testing.T) {
	token := generateCSRFToken("s3cr3t")
	if !verifyCSRFToken(token, "s3cr3t") {
		t.Fatalf("expected a freshly generated token to verify against its own secret")
	}
}

func TestCSRFTokenRejectsWrongSecret(t *testing.T) {
	token := generateCSRFToken("s3cr3t")
	if verifyCSRFToken(token, "other-secret") {
		t.Fatalf("expected verification to fail against a mismatched secret")
	}
}

func TestCSRFTokenRejectsMalformedToken(t *testing.T) {
	if verifyCSRFToken("not-a-valid-token", "s3cr3t") {
		t.Fatalf("expected a malformed token to fail verification")
	}
}
