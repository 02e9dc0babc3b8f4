// Package core defines the core business logic and interfaces for the EGTTS worker.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ModelSpec describes where a checkpoint lives and how it should be placed on
// the device. All paths are absolute once resolved by the loader.
type ModelSpec struct {
	ConfigPath    string
	CheckpointDir string
	VocabPath     string
	Device        string
	UseDeepSpeed  bool
	TOSAgreed     bool
}

// Conditioning holds the speaker conditioning produced by the model. It is
// opaque to the worker and passed back unchanged on inference.
type Conditioning struct {
	GPTCondLatent    [][]float32 `json:"gpt_cond_latent"`
	SpeakerEmbedding []float32   `json:"speaker_embedding"`
}

// InferenceRequest holds the parameters for a single synthesis call.
type InferenceRequest struct {
	Text         string
	Language     string
	Temperature  float64
	Conditioning Conditioning
}

// Synthesizer is a loaded TTS model.
type Synthesizer interface {
	// ConditioningLatents returns the conditioning for the given reference
	// audio. An empty speakerWav selects the model's built-in default voice.
	ConditioningLatents(ctx context.Context, speakerWav string) (Conditioning, error)
	// Inference synthesizes text and returns mono float samples.
	Inference(ctx context.Context, req InferenceRequest) ([]float32, error)
}

// ModelBackend constructs a model from its configuration, loads the weights,
// and moves it to the requested device.
type ModelBackend interface {
	Load(ctx context.Context, spec ModelSpec) (Synthesizer, error)
}
