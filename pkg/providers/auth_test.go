package providers

import (
	"context"
	"net/http"
	"testing"
)

func TestStaticTokenSource_RejectsEmptyToken(t *testing.T) {
	src := NewStaticTokenSource("   ", "providers.openrouter.api_key")
	if _, err := src.Token(context.Background()); err == nil {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestBearerTokenAuth_SetsAuthorizationHeader(t *testing.T) {
	auth := NewBearerTokenAuth(NewStaticTokenSource("sk-test", "test"))
	req, err := http.NewRequest(http.MethodPost, "http://example.test", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := auth.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestBearerTokenAuth_NilSource(t *testing.T) {
	auth := NewBearerTokenAuth(nil)
	req, _ := http.NewRequest(http.MethodPost, "http://example.test", nil)
	if err := auth.Apply(context.Background(), req); err == nil {
		t.Fatalf("expected error for nil token source")
	}
}
