package search

import "fmt"

// ValidationError reports malformed caller input (empty query). Surfaced to
// HTTP callers as a 400 with the message.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// CorpusReadError wraps a failure to load the user's highlight corpus.
// Unrecoverable within the search pipeline: without the corpus there is
// nothing to rank.
type CorpusReadError struct {
	Err error
}

func (e *CorpusReadError) Error() string { return fmt.Sprintf("reading corpus: %v", e.Err) }
func (e *CorpusReadError) Unwrap() error { return e.Err }

// ProviderError wraps an embedding or answer-synthesis failure. Recovered
// locally by degrading the response; logged, never surfaced to the end user.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}
func (e *ProviderError) Unwrap() error { return e.Err }
