package handler

import (
	"encoding/json"
	"fmt"
)

const errFmtUnspecified = "unspecified %s error"

// Kind classifies a per-request failure.
type Kind string

const (
	// KindValidation means the input was rejected before touching the model.
	KindValidation Kind = "validation"
	// KindModelRuntime means conditioning or inference failed.
	KindModelRuntime Kind = "model_runtime"
	// KindEncoding means the waveform could not be packaged as WAV or base64.
	KindEncoding Kind = "encoding"
)

// Job is one unit of work as delivered by the dispatcher.
type Job struct {
	ID    string `json:"id"`
	Input *Input `json:"input"`
}

// Input holds the caller's synthesis parameters. Absent fields take defaults.
type Input struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Text        string   `json:"text"`
	Language    string   `json:"language,omitempty"`
}

// Result is the outcome of a job. It serializes either as a success object
// or as exactly {"error": ...}. WAV and Kind stay in process.
type Result struct {
	WAV        []byte
	Audio      string
	Text       string
	AudioKey   string
	Error      string
	Kind       Kind
	SampleRate int
}

type successBody struct {
	Audio      string `json:"audio,omitempty"`
	Text       string `json:"text"`
	AudioKey   string `json:"audio_key,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// WithoutInlineAudio returns r with the base64 audio removed, leaving
// audio_key as the only way to the clip. It returns r unchanged when the clip
// was not archived.
func (r Result) WithoutInlineAudio() Result {
	if r.AudioKey == "" {
		return r
	}

	r.Audio = ""

	return r
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(errorBody{Error: r.Error})
	}

	return json.Marshal(successBody{
		Audio:      r.Audio,
		SampleRate: r.SampleRate,
		Text:       r.Text,
		AudioKey:   r.AudioKey,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Kind is not carried on the wire.
func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		successBody
		errorBody
	}

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}

	*r = Result{
		Audio:      wire.Audio,
		Text:       wire.Text,
		AudioKey:   wire.AudioKey,
		SampleRate: wire.SampleRate,
		Error:      wire.Error,
	}

	return nil
}

// failure builds a failed Result. An empty message would serialize as a
// success, so it is replaced with one naming the kind.
func failure(kind Kind, message string) Result {
	if message == "" {
		message = fmt.Sprintf(errFmtUnspecified, kind)
	}

	return Result{Error: message, Kind: kind}
}
