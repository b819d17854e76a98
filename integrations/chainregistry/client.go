package chainregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"gitlab.com/stratomesh/provisioning-service/internal/logger"
	"gitlab.com/stratomesh/provisioning-service/models"
)

var zlog *logger.Logger

func init() {
	zlog = logger.New("chainregistry")
}

// Client publishes benchmark results to the on-chain registry and files
// disputes against operators whose machines fail verification. The ledger
// itself is an external collaborator; this is only its call contract.
type Client interface {
	// SubmitBenchmark publishes a completed result and returns the
	// transaction hash.
	SubmitBenchmark(ctx context.Context, machineID string, result *models.BenchmarkResult) (string, error)
	// DisputeBenchmark files a slashing dispute against an operator and
	// returns the transaction hash.
	DisputeBenchmark(ctx context.Context, operator string, reason string) (string, error)
}

// HTTPGateway is a Client backed by the chain gateway service, which wraps
// ledger transactions behind a plain REST surface.
type HTTPGateway struct {
	baseURL string
	http    *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type txResponse struct {
	TransactionHash string `json:"transaction_hash"`
}

func (g *HTTPGateway) SubmitBenchmark(ctx context.Context, machineID string, result *models.BenchmarkResult) (string, error) {
	body := map[string]interface{}{
		"machine_id": machineID,
		"result":     result,
	}
	return g.post(ctx, "/v1/benchmarks", body)
}

func (g *HTTPGateway) DisputeBenchmark(ctx context.Context, operator string, reason string) (string, error) {
	body := map[string]string{
		"operator": operator,
		"reason":   reason,
	}
	return g.post(ctx, "/v1/disputes", body)
}

func (g *HTTPGateway) post(ctx context.Context, path string, body interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("chain gateway returned %d for %s", resp.StatusCode, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var tx txResponse
	if err := json.Unmarshal(data, &tx); err != nil {
		return "", err
	}
	if _, err := hexutil.Decode(tx.TransactionHash); err != nil {
		return "", fmt.Errorf("malformed transaction hash %q: %v", tx.TransactionHash, err)
	}
	return tx.TransactionHash, nil
}

// Noop is a Client for environments without a chain gateway. Calls are
// logged and succeed with an empty transaction hash.
type Noop struct{}

func (Noop) SubmitBenchmark(ctx context.Context, machineID string, result *models.BenchmarkResult) (string, error) {
	zlog.Sugar().Debugf("noop chain registry: submit benchmark for %s", machineID)
	return "", nil
}

func (Noop) DisputeBenchmark(ctx context.Context, operator string, reason string) (string, error) {
	zlog.Sugar().Debugf("noop chain registry: dispute against %s: %s", operator, reason)
	return "", nil
}
