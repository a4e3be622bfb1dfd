package ai

import "errors"

var (
	// ErrEmptyResponse indicates the model returned no candidates.
	ErrEmptyResponse = errors.New("model returned no content")

	// ErrUnknownProvider indicates Config.Provider names no known backend.
	ErrUnknownProvider = errors.New("unknown AI provider")
)
