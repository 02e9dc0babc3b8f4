package tts

import (
	"encoding/json"
	"fmt"
)

// parseJSON parses a sidecar response body into the target value.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
