package objectstore

import (
	"net/url"
	"testing"
)

func TestCanonicalURIDefaultsToRoot(t *testing.T) {
	if got := canonicalURI(nil); got != "/" {
		t.Fatalf("expected /, got %q", got)
	}
	u, _ := url.Parse("https://example.com")
	if got := canonicalURI(u); got != "/" {
		t.Fatalf("expected / for empty path, got %q", got)
	}
}

func TestCanonicalQuerySortsKeysAndValues(t *testing.T) {
	u, _ := url.Parse("https://example.com/obj?b=2&a=1&a=0")
	got := canonicalQuery(u)
	want := "a=0&a=1&b=2"
	if got != want {
		t.Fatalf("canonicalQuery() = %q, want %q", got, want)
	}
}

func TestDeriveSigningKeyIsDeterministic(t *testing.T) {
	k1 := deriveSigningKey("secret", "20260101", "us-east-1")
	k2 := deriveSigningKey("secret", "20260101", "us-east-1")
	if string(k1) != string(k2) {
		t.Fatalf("expected deriveSigningKey to be deterministic for identical inputs")
	}
	k3 := deriveSigningKey("other-secret", "20260101", "us-east-1")
	if string(k1) == string(k3) {
		t.Fatalf("expected different secrets to produce different signing keys")
	}
}

func TestNewS3StoreRequiresBucketAndEndpoint(t *testing.T) {
	if _, err := NewS3Store(S3Config{}); err == nil {
		t.Fatalf("expected error for missing bucket and endpoint")
	}
}

func TestS3StoreApplyPrefix(t *testing.T) {
	store, err := NewS3Store(S3Config{Bucket: "media", Endpoint: "s3.example.com", Prefix: "tenants"})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	impl := store.(*s3Store)
	if got := impl.applyPrefix("t1/a.png"); got != "tenants/t1/a.png" {
		t.Fatalf("applyPrefix() = %q", got)
	}
	if got := impl.applyPrefix("tenants/t1/a.png"); got != "tenants/t1/a.png" {
		t.Fatalf("applyPrefix() should not double-prefix, got %q", got)
	}
}
