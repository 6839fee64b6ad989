package tokens_test

import (
	"testing"
	"time"

	"github.com/technosupport/faceguard/internal/tokens"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")

	token, err := mgr.GenerateServiceToken("stream-service", time.Minute)
	if err != nil {
		t.Fatalf("Failed to generate service token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.Service != "stream-service" {
		t.Errorf("Expected service stream-service, got %s", claims.Service)
	}
	if claims.Subject != "stream-service" {
		t.Errorf("Expected subject stream-service, got %s", claims.Subject)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _ := mgr1.GenerateServiceToken("notifier", time.Minute)
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := tokens.NewManager("secret")

	token, _ := mgr.GenerateServiceToken("notifier", -time.Minute)
	_, err := mgr.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for expired token")
	}
}
