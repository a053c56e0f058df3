package cortex

import (
	"encoding/json"
	"strconv"
)

// ToRecord flattens a Memory into the storage form.
func (m Memory) ToRecord() Record {
	fields := map[string]string{
		FieldPerplexity: strconv.FormatFloat(m.Perplexity, 'f', -1, 64),
		FieldSurprise:   strconv.FormatFloat(m.Surprise, 'f', -1, 64),
		FieldSessionID:  m.SessionID,
		FieldTimestamp:  strconv.FormatInt(m.Timestamp, 10),
	}
	if len(m.Meta) > 0 {
		meta, _ := json.Marshal(m.Meta)
		fields[FieldMetadata] = string(meta)
	} else {
		fields[FieldMetadata] = "{}"
	}
	return Record{ID: m.ID, Text: m.Message, Embedding: m.Embedding, Fields: fields}
}

// MemoryFromRecord rebuilds a Memory from its storage form. Missing or
// malformed numeric fields decode to zero values.
func MemoryFromRecord(rec Record) Memory {
	m := Memory{
		ID:        rec.ID,
		Message:   rec.Text,
		Embedding: rec.Embedding,
		SessionID: rec.Fields[FieldSessionID],
	}
	m.Perplexity, _ = strconv.ParseFloat(rec.Fields[FieldPerplexity], 64)
	m.Surprise, _ = strconv.ParseFloat(rec.Fields[FieldSurprise], 64)
	m.Timestamp, _ = strconv.ParseInt(rec.Fields[FieldTimestamp], 10, 64)
	if raw := rec.Fields[FieldMetadata]; raw != "" && raw != "{}" {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			m.Meta = meta
		}
	}
	return m
}

// ToRecord flattens a Chunk into the storage form.
func (c Chunk) ToRecord() Record {
	return Record{
		ID:        c.ID,
		Text:      c.Text,
		Embedding: c.Embedding,
		Fields: map[string]string{
			FieldFilename:    c.Filename,
			FieldFileType:    c.FileType,
			FieldChunkIndex:  strconv.Itoa(c.ChunkIndex),
			FieldTotalChunks: strconv.Itoa(c.TotalChunks),
			FieldTokens:      strconv.Itoa(c.Tokens),
			FieldTimestamp:   strconv.FormatInt(c.Timestamp, 10),
		},
	}
}

// ChunkFromRecord rebuilds a Chunk from its storage form.
func ChunkFromRecord(rec Record) Chunk {
	c := Chunk{
		ID:        rec.ID,
		Text:      rec.Text,
		Embedding: rec.Embedding,
		Filename:  rec.Fields[FieldFilename],
		FileType:  rec.Fields[FieldFileType],
	}
	c.ChunkIndex, _ = strconv.Atoi(rec.Fields[FieldChunkIndex])
	c.TotalChunks, _ = strconv.Atoi(rec.Fields[FieldTotalChunks])
	c.Tokens, _ = strconv.Atoi(rec.Fields[FieldTokens])
	c.Timestamp, _ = strconv.ParseInt(rec.Fields[FieldTimestamp], 10, 64)
	return c
}
