package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWorldIDVerifier(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantValid bool
		wantErr   bool
	}{
		{name: "valid", status: http.StatusOK, wantValid: true},
		{name: "invalid proof", status: http.StatusBadRequest, wantValid: false},
		{name: "provider error", status: http.StatusBadGateway, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var received map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v2/verify/app_123" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
					t.Errorf("decode body: %v", err)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer server.Close()

			verifier := NewWorldIDVerifier(server.URL, "app_123", "login", time.Second)
			result, err := verifier.Verify(context.Background(), Proof{NullifierHash: "0xnull", Proof: "0xproof"})
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if result.Valid != tc.wantValid || result.CredentialID != "0xnull" {
				t.Fatalf("unexpected verification: %+v", result)
			}
			if received["action"] != "login" || received["nullifier_hash"] != "0xnull" {
				t.Fatalf("unexpected request body: %v", received)
			}
		})
	}
}

func TestWorldIDVerifierSkipsEmptyCredential(t *testing.T) {
	verifier := NewWorldIDVerifier("http://127.0.0.1:0", "app", "", time.Second)
	result, err := verifier.Verify(context.Background(), Proof{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatal("expected empty credential to be invalid")
	}
}
