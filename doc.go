// Package cortex is a local-first cognitive orchestrator for conversational
// AI workloads. It mediates between chat clients, one or more text-generation
// backends, a vector memory, a code-execution sandbox, and a voice frontend.
//
// Every user utterance produces two things: an answer from an appropriate
// reasoning engine, and an asynchronously curated long-term memory. Memories
// are gated by a surprise score that combines model perplexity with
// nearest-neighbor novelty, so only utterances the system finds surprising
// are kept.
//
// # Architecture
//
// The root package defines the contracts all components implement:
//
//   - [Engine] — text-generation backend (completion, chat, health)
//   - [EmbeddingProvider] — deterministic text-to-vector embedding
//   - [Store] — namespaced vector memory with ANN search
//   - [CaptureStream] — append-only bounded log of user turns
//   - [Tool] and [ToolRegistry] — callable capabilities for agents
//
// Implementations live in subpackages: provider/openaicompat and
// provider/failover (inference gateway), store/redisvec, store/sqlitevec and
// store/pgvec (vector memory), pipeline (surprise-scored capture), archive
// (cold-tier storage), reason (chain-of-verification, ReAct and recursive
// agents), toolkit (standard tools), and server (the HTTP surface).
//
// # Quick start
//
//	backend := openaicompat.New(cfg.InferenceURL, cfg.Model)
//	engine := failover.New(backend)
//	store := redisvec.New(redisClient, embedder)
//
//	agent := reason.NewAgent(engine, registry)
//	result, err := agent.Solve(ctx, "what is 15 * 27")
//
// See cmd/cortexd for the complete orchestrator binary.
package cortex
