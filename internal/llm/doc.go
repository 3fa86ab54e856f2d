// Package llm provides single-prompt text completion for relevance grading,
// query rewriting and chunk augmentation.
//
// Backends are selected by a "<provider>/<model>" key: "openai" speaks the
// chat completions wire format (any compatible server through BaseURL) and
// "gemini" uses google.golang.org/genai. Unknown providers and missing API
// keys fail New with types.ErrConfiguration. Calls are not retried.
package llm
