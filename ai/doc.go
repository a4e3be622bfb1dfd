// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides abstractions for the AI services used by folio.
//
// This package defines interfaces for AI operations including text embeddings
// and multimodal generation. It follows the dependency inversion principle,
// allowing the ingestion pipeline to depend on abstractions rather than on a
// particular model vendor.
//
// # Design Principles
//
// The package is designed around three key interfaces:
//
//   - Embedder: Generates vector embeddings from text
//   - Generator: Produces text from a prompt plus an optional attachment
//   - AIProvider: Aggregates AI services for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs (OpenAI, Ollama, vLLM) via langchaingo
//   - ai/gemini: The Gemini API via google.golang.org/genai
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, gemini.NewProvider, etc.) return
// INTERFACE types to enforce abstraction and prevent accidental coupling to
// concrete implementations.
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//
// Test utility constructors (mock.NewMockEmbedder, mock.NewMockGenerator)
// return CONCRETE types to enable test assertions and behavior injection.
//
// # Rate Limiting
//
// RateLimited wraps any provider with a token bucket shared by its embedder
// and generator:
//
//	provider = ai.RateLimited(provider, cfg.RequestsPerSecond, cfg.Burst)
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithProvider(ai.ProviderGemini), ai.WithAPIKey(key))
//	provider, err := gemini.NewProvider(ctx, config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	text, err := provider.Generator().Generate(ctx, ai.GenerateRequest{
//	    Prompt:     "Summarize this document",
//	    Attachment: pdfBytes,
//	    MimeType:   "application/pdf",
//	})
package ai
