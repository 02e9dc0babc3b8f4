// Package tts reaches the XTTS inference sidecar that hosts the GPU model.
//
// The sidecar owns the checkpoint once loaded; this package only speaks its
// JSON API: load a checkpoint, fetch conditioning latents, run inference.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AhmedNabil/Egyptian-Text-To-Speech/internal/core"
)

// API endpoints and paths.
const (
	apiLoadModel    = "/v1/models/load"
	apiConditioning = "/v1/conditioning"
	apiInference    = "/v1/inference"
	apiHealth       = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
	errFmtSendRequest          = "failed to send request to inference service at %s: %w"
)

var (
	// ErrTextEmpty is returned when inference is requested for empty text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEmptyWaveform is returned when the sidecar answers with no samples.
	ErrEmptyWaveform = errors.New("received empty waveform")
	// ErrNoModelID is returned when the sidecar accepts a load without naming the model.
	ErrNoModelID = errors.New("load response did not include a model id")
)

// HTTPClient is a client for the XTTS inference sidecar. It implements
// core.ModelBackend.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// LoadRequest asks the sidecar to build the model from its config, load the
// checkpoint, and move it to the device.
type LoadRequest struct {
	ConfigPath    string `json:"config_path"`
	CheckpointDir string `json:"checkpoint_dir"`
	VocabPath     string `json:"vocab_path"`
	Device        string `json:"device"`
	UseDeepSpeed  bool   `json:"use_deepspeed"`
	TOSAgreed     bool   `json:"tos_agreed"`
}

// LoadResponse identifies the loaded model.
type LoadResponse struct {
	ModelID string `json:"model_id"`
	Device  string `json:"device"`
}

// ConditioningRequest asks for speaker conditioning. A nil AudioPath selects
// the model's default voice.
type ConditioningRequest struct {
	ModelID   string  `json:"model_id"`
	AudioPath *string `json:"audio_path"`
}

// InferenceRequest is the wire form of core.InferenceRequest.
type InferenceRequest struct {
	ModelID          string      `json:"model_id"`
	Text             string      `json:"text"`
	Language         string      `json:"language"`
	GPTCondLatent    [][]float32 `json:"gpt_cond_latent"`
	SpeakerEmbedding []float32   `json:"speaker_embedding"`
	Temperature      float64     `json:"temperature"`
}

// InferenceResponse carries the synthesized mono waveform.
type InferenceResponse struct {
	Wav []float32 `json:"wav"`
}

// ErrorResponse represents a structured error response from the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates and configures a client for the inference sidecar.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
// The timeout applies to every request, including inference.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Load builds and loads the checkpoint on the sidecar and returns a handle to it.
func (c *HTTPClient) Load(ctx context.Context, spec core.ModelSpec) (core.Synthesizer, error) {
	req := LoadRequest{
		ConfigPath:    spec.ConfigPath,
		CheckpointDir: spec.CheckpointDir,
		VocabPath:     spec.VocabPath,
		Device:        spec.Device,
		UseDeepSpeed:  spec.UseDeepSpeed,
		TOSAgreed:     spec.TOSAgreed,
	}

	var resp LoadResponse

	err := c.postJSON(ctx, apiLoadModel, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	if resp.ModelID == "" {
		return nil, ErrNoModelID
	}

	return &RemoteModel{client: c, modelID: resp.ModelID}, nil
}

// HealthCheck verifies that the sidecar is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// postJSON sends body to path and decodes a 200 response into out.
func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return parseJSON(data, out)
}

// parseErrorResponse attempts to decode a structured JSON error from the sidecar.
// If structured parsing fails, it falls back to the raw response body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(
		errFmtServiceNonOKStatus,
		resp.Status,
		string(body),
	)
}

// RemoteModel is a checkpoint loaded on the sidecar. It implements
// core.Synthesizer.
type RemoteModel struct {
	client  *HTTPClient
	modelID string
}

// ConditioningLatents fetches speaker conditioning. An empty speakerWav asks
// for the default voice.
func (m *RemoteModel) ConditioningLatents(ctx context.Context, speakerWav string) (core.Conditioning, error) {
	req := ConditioningRequest{ModelID: m.modelID}
	if speakerWav != "" {
		req.AudioPath = &speakerWav
	}

	var conditioning core.Conditioning

	err := m.client.postJSON(ctx, apiConditioning, req, &conditioning)
	if err != nil {
		return core.Conditioning{}, fmt.Errorf("failed to get conditioning latents: %w", err)
	}

	return conditioning, nil
}

// Inference synthesizes req.Text and returns the raw waveform.
func (m *RemoteModel) Inference(ctx context.Context, req core.InferenceRequest) ([]float32, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	wireReq := InferenceRequest{
		ModelID:          m.modelID,
		Text:             req.Text,
		Language:         req.Language,
		GPTCondLatent:    req.Conditioning.GPTCondLatent,
		SpeakerEmbedding: req.Conditioning.SpeakerEmbedding,
		Temperature:      req.Temperature,
	}

	var resp InferenceResponse

	err := m.client.postJSON(ctx, apiInference, wireReq, &resp)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	if len(resp.Wav) == 0 {
		return nil, ErrEmptyWaveform
	}

	return resp.Wav, nil
}
