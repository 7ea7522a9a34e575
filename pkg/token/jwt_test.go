package token

import (
	"testing"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewJWTManager("test-secret", 1)

	tok, err := m.GenerateToken("ops-zhang")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := m.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Operator != "ops-zhang" {
		t.Errorf("Operator = %q, want ops-zhang", claims.Operator)
	}
	if claims.ID == "" {
		t.Error("jti is empty")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	tok, err := NewJWTManager("secret-a", 1).GenerateToken("ops")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := NewJWTManager("secret-b", 1).ValidateToken(tok); err == nil {
		t.Error("ValidateToken() error = nil, want signature failure")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", 1)
	if _, err := m.ValidateToken("not-a-token"); err == nil {
		t.Error("ValidateToken() error = nil, want parse failure")
	}
}
