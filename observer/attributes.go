package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for LLM observability spans and metrics.
var (
	AttrLLMBackend = attribute.Key("llm.backend")
	AttrLLMMethod  = attribute.Key("llm.method")

	AttrPromptLength = attribute.Key("llm.prompt_length")
	AttrResultLength = attribute.Key("llm.result_length")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")
)
