package cloudverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// Verification is the attestation report returned by the Proof-of-Cloud
// alliance service for a node's TEE identity.
type Verification struct {
	Verified        bool   `json:"verified"`
	Level           int    `json:"level" validate:"gte=1,lte=3"`
	CloudProvider   string `json:"cloud_provider" validate:"max=64"`
	Region          string `json:"region" validate:"max=64"`
	HardwareIDHash  string `json:"hardware_id_hash" validate:"omitempty,hexadecimal"`
	ReputationDelta int    `json:"reputation_delta" validate:"gte=-100,lte=100"`
}

// Verifier checks a machine's claimed cloud/TEE identity against the
// external alliance registry. Attestation cryptography happens on the other
// side of this interface.
type Verifier interface {
	VerifyNode(ctx context.Context, agentID string, attestationHash string) (*Verification, error)
}

// HTTPVerifier is a Verifier backed by the alliance REST service.
type HTTPVerifier struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		validate: validator.New(),
	}
}

func (v *HTTPVerifier) VerifyNode(ctx context.Context, agentID string, attestationHash string) (*Verification, error) {
	body, err := json.Marshal(map[string]string{
		"agent_id":         agentID,
		"attestation_hash": attestationHash,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("verifier returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var verification Verification
	if err := json.Unmarshal(data, &verification); err != nil {
		return nil, err
	}
	if err := v.validate.Struct(&verification); err != nil {
		return nil, fmt.Errorf("malformed verification response: %w", err)
	}
	return &verification, nil
}
