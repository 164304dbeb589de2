/*
Package providers implements the gateway's provider adapters (C5): one
adapter per backend, each translating between the provider-agnostic types
in types.go and that backend's wire format.

# Adapter interface

Every backend implements Adapter: Name, SupportsStreaming,
SupportsParallelToolCalls, Infer and InferStream. Infer takes a
ModelInferenceRequest and returns a ProviderInferenceResponse; InferStream
returns a channel of StreamChunk values. Optional capabilities are separate
interfaces that a caller detects with a type assertion: BatchCapable
(StartBatch, PollBatch), FileUploadCapable (UploadFile), FineTuneCapable
(StartFineTune, PollFineTune) and EmbedCapable (Embed). WrappedProvider is
implemented by the adapters that carry another provider's wire body over
their own transport (Bedrock, Sagemaker).

# Adapters

  - OpenAICompatible (openai.go): OpenAI and every backend that speaks its
    chat-completions format, one constructor per backend (NewOpenAI,
    NewAzureOpenAI, NewMistral, ..., NewNvidia).
  - Anthropic (anthropic.go): the Anthropic messages API;
    NewBedrockAnthropic builds the body shape Bedrock expects.
  - Gemini (gemini.go): Google AI Studio (NewGemini) and GCP Vertex
    (NewVertex).
  - Bedrock (bedrock.go) and Sagemaker (sagemaker.go): AWS transports around
    the Anthropic and OpenAICompatible body builders.
  - Dummy (dummy.go): deterministic behaviours for tests.

Wire structs are hand-written with encoding/json. base.go holds the shared
helpers: DoJSONRequest for a classified HTTP round trip and ScanSSE for
server-sent-event streams.

# Registry

Registry (registry.go) holds adapters by their configured name.
ResolveShorthand builds an adapter for a "provider_type::model_name"
shorthand without a config entry.
*/
package providers
