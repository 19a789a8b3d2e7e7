package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Proof is the personhood proof submitted by a client. NullifierHash is the
// stable credential identifier: one human, one hash per application.
type Proof struct {
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root,omitempty"`
	Proof             string `json:"proof,omitempty"`
	VerificationLevel string `json:"verification_level,omitempty"`
	SignalHash        string `json:"signal_hash,omitempty"`
}

// Verification is the provider's verdict on a proof.
type Verification struct {
	CredentialID string
	Valid        bool
}

// Verifier checks personhood proofs with an identity provider.
type Verifier interface {
	Verify(ctx context.Context, proof Proof) (Verification, error)
}

// TrustVerifier accepts any non-empty credential without contacting a provider.
// It is meant for development environments.
type TrustVerifier struct{}

// Verify implements Verifier.
func (TrustVerifier) Verify(_ context.Context, proof Proof) (Verification, error) {
	credential := strings.TrimSpace(proof.NullifierHash)
	return Verification{CredentialID: credential, Valid: credential != ""}, nil
}

// WorldIDVerifier posts proofs to the World ID developer API.
type WorldIDVerifier struct {
	Endpoint string
	AppID    string
	Action   string
	Client   *http.Client
}

// NewWorldIDVerifier constructs a verifier for the given application.
func NewWorldIDVerifier(endpoint, appID, action string, timeout time.Duration) *WorldIDVerifier {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = "https://developer.worldcoin.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WorldIDVerifier{
		Endpoint: strings.TrimRight(endpoint, "/"),
		AppID:    appID,
		Action:   action,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Verify implements Verifier. A 2xx response means the proof is valid, a 4xx
// response means it is not; anything else is returned as an error.
func (v *WorldIDVerifier) Verify(ctx context.Context, proof Proof) (Verification, error) {
	credential := strings.TrimSpace(proof.NullifierHash)
	if credential == "" {
		return Verification{}, nil
	}

	body, err := json.Marshal(struct {
		Proof
		Action string `json:"action"`
	}{Proof: proof, Action: v.Action})
	if err != nil {
		return Verification{}, fmt.Errorf("encode proof: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/verify/%s", v.Endpoint, url.PathEscape(v.AppID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Verification{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("call identity provider: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Verification{CredentialID: credential, Valid: true}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Verification{CredentialID: credential, Valid: false}, nil
	default:
		return Verification{}, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
}
