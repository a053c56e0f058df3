package cortex

import (
	"encoding/binary"
	"math"
)

// --- Capture stream types ---

// Turn is a single user utterance entering the system. Turns are ephemeral:
// they live in the capture stream until the scoring worker consumes them.
type Turn struct {
	Message   string            `json:"message"`
	SessionID string            `json:"session_id"`
	Timestamp int64             `json:"timestamp"` // unix milliseconds
	Meta      map[string]string `json:"meta,omitempty"`
}

// Entry is a Turn as read back from the capture stream, tagged with the
// stream-assigned id used for checkpointing.
type Entry struct {
	ID   string `json:"id"`
	Turn Turn   `json:"turn"`
}

// --- Vector memory types ---

// Record is the flat storage form of anything kept in the vector memory:
// an id, the raw text, the embedding, and a string field map holding every
// secondary attribute. Backends index Fields entries as numeric or tag
// fields; the archive serializes them verbatim.
type Record struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"-"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Match is a search hit: the record plus its cosine distance from the query
// (0 = identical direction, 2 = opposite).
type Match struct {
	Record   Record  `json:"record"`
	Distance float64 `json:"distance"`
}

// Filter restricts a search to records whose tag field equals Value.
// Backends must treat Value as opaque data: it is parameterized or escaped,
// never interpolated into a query grammar.
type Filter struct {
	Field string
	Value string
}

// Memory is a long-term memory record created by the scoring worker.
// Immutable once written; deleted only by archival or the admin API.
type Memory struct {
	ID         string            `json:"id"`
	Message    string            `json:"message"`
	Embedding  []float32         `json:"-"`
	Perplexity float64           `json:"perplexity"`
	Surprise   float64           `json:"surprise_score"`
	SessionID  string            `json:"session_id"`
	Timestamp  int64             `json:"timestamp"` // unix milliseconds
	Meta       map[string]string `json:"metadata,omitempty"`
}

// Chunk is one piece of an ingested document, stored in the library
// namespace by the ingestion collaborator.
type Chunk struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"-"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Tokens      int       `json:"tokens"`
	Timestamp   int64     `json:"timestamp"`
}

// --- Agent types ---

// AgentStep is one Thought/Action/Observation iteration of a tool-using
// agent. Steps are transient: returned with each agent response and
// optionally summarized back into the capture stream.
type AgentStep struct {
	StepNumber  int    `json:"step_number"`
	Thought     string `json:"thought"`
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// AgentResult is the outcome of an agent run.
type AgentResult struct {
	Answer     string      `json:"answer"`
	Steps      []AgentStep `json:"steps"`
	TotalSteps int         `json:"total_steps"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
}

// --- Persona ---

// Persona is a persistent chat personality: a system prompt plus optional
// seed history and asset paths. At most one persona is active per process.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	History      string `json:"history,omitempty"`
	AvatarPath   string `json:"avatar_path,omitempty"`
	VoicePath    string `json:"voice_path,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// --- Chat protocol types ---

// ChatMessage is a single message in a chat-completion conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// --- Embedding codec ---

// EncodeVector serializes an embedding as little-endian float32 bytes.
// The encoding round-trips bit-exact through DecodeVector; the archive
// depends on this when restoring binary fields.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector reverses EncodeVector. Trailing bytes that do not form a
// whole float32 are ignored.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
