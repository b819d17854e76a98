package machines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"gitlab.com/stratomesh/provisioning-service/models"
)

// ErrTimeout is returned when a machine agent call exceeds its deadline.
var ErrTimeout = errors.New("machine endpoint timed out")

// ErrEndpoint is returned when a machine agent answers with a non-2xx status.
var ErrEndpoint = errors.New("machine endpoint error")

// ActivationRequest is the payload sent to a machine agent to start serving
// an allocation.
type ActivationRequest struct {
	AllocationID string             `json:"allocationId"`
	User         string             `json:"user"`
	Specs        models.MachineSpec `json:"specs"`
}

// ActivationResponse carries the runtime node the agent assigned.
type ActivationResponse struct {
	NodeID   string `json:"nodeId"`
	Endpoint string `json:"endpoint"`
}

// BenchmarkRequest asks a machine agent to run the verification benchmark
// image and report measurements.
type BenchmarkRequest struct {
	JobID          string `json:"jobId"`
	Image          string `json:"image"`
	TimeoutSeconds int    `json:"timeout"`
}

// Client talks to the operator-side machine agents. Deadlines come from the
// caller's context; the embedded http.Client carries no timeout of its own.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// Activate asks the agent behind endpoint to start serving an allocation.
// Any non-2xx response is an activation failure.
func (c *Client) Activate(ctx context.Context, endpoint string, req ActivationRequest) (*ActivationResponse, error) {
	var resp ActivationResponse
	if err := c.post(ctx, endpoint, "/v1/activate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deactivate asks the agent to tear an allocation down. Callers treat a
// failure here as non-fatal.
func (c *Client) Deactivate(ctx context.Context, endpoint string, allocationID string) error {
	body := map[string]string{"allocationId": allocationID}
	return c.post(ctx, endpoint, "/v1/deactivate", body, nil)
}

// RunBenchmark dispatches a benchmark run and returns the raw, untrusted
// result document.
func (c *Client) RunBenchmark(ctx context.Context, endpoint string, req BenchmarkRequest) (*models.BenchmarkResult, error) {
	var result models.BenchmarkResult
	if err := c.post(ctx, endpoint, "/v1/benchmark", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrEndpoint, url, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
