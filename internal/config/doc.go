// Package config loads the TOML configuration shared by the CLI and the
// tool server. Values come from Default, then the file, then REPOINDEX_*
// environment variables. API keys may also come from the provider
// variables (OPENAI_API_KEY, JINA_API_KEY, GEMINI_API_KEY, GITHUB_TOKEN),
// which the providers read themselves.
package config
