package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

type Layer string

const (
	LayerShortTerm Layer = "short-term"
	LayerSemantic  Layer = "semantic"
	LayerLongTerm  Layer = "long-term"
)

func ValidLayer(l string) bool {
	switch Layer(l) {
	case LayerShortTerm, LayerSemantic, LayerLongTerm:
		return true
	}
	return false
}

type MemoryType string

const (
	MemoryTypeExplicit MemoryType = "explicit"
	MemoryTypeImplicit MemoryType = "implicit"
)

func ValidMemoryType(t string) bool {
	switch MemoryType(t) {
	case MemoryTypeExplicit, MemoryTypeImplicit:
		return true
	}
	return false
}

const (
	MaxContentLength  = 5000
	MaxPersonaTags    = 10
	EmbeddingDim      = 3072
	DefaultImportance = 0.8
	DefaultConfidence = 0.9

	// PinnedTag marks memories that compaction must never drop.
	PinnedTag = "critical"
)

// Metadata keys recording which typed stores hold a shadow copy of a memory.
// These flags on the vector record are the authoritative map at delete time.
const (
	MetaStoredEpisodic   = "stored_in_episodic"
	MetaStoredEmotional  = "stored_in_emotional"
	MetaStoredProcedural = "stored_in_procedural"
	MetaStoredPortfolio  = "stored_in_portfolio"
)

type Memory struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Content        string         `json:"content"`
	Layer          Layer          `json:"layer"`
	Type           MemoryType     `json:"type"`
	Importance     float64        `json:"importance"`
	Confidence     float64        `json:"confidence"`
	RelevanceScore float64        `json:"relevance_score"`
	UsageCount     int            `json:"usage_count"`
	PersonaTags    []string       `json:"persona_tags,omitempty"`
	Embedding      []float32      `json:"-"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewMemoryID returns a fresh "mem_" + 12 hex char identifier.
func NewMemoryID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return "mem_" + hex.EncodeToString(b[:])
}

// ValidMemoryID reports whether id has the mem_<12 hex> shape.
func ValidMemoryID(id string) bool {
	if len(id) != 16 || id[:4] != "mem_" {
		return false
	}
	_, err := hex.DecodeString(id[4:])
	return err == nil
}

// ApplyDefaults fills zero-valued scoring fields and stamps the memory.
func (m *Memory) ApplyDefaults(now time.Time) {
	if m.Layer == "" {
		m.Layer = LayerSemantic
	}
	if m.Type == "" {
		m.Type = MemoryTypeExplicit
	}
	if m.Importance == 0 {
		m.Importance = DefaultImportance
	}
	if m.Confidence == 0 {
		m.Confidence = DefaultConfidence
	}
	if m.RelevanceScore == 0 {
		m.RelevanceScore = m.Importance
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now.UTC()
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
}

// StoredIn reports whether the metadata flag for the given key is set.
func (m *Memory) StoredIn(flag string) bool {
	v, ok := m.Metadata[flag].(bool)
	return ok && v
}

// Pinned reports whether the memory carries the critical persona tag.
func (m *Memory) Pinned() bool {
	for _, t := range m.PersonaTags {
		if t == PinnedTag {
			return true
		}
	}
	return false
}

type MemoryWithScore struct {
	Memory
	Score float64 `json:"score"`
	// Source names the store the hit came from: semantic, episodic, procedural, portfolio.
	Source string `json:"source,omitempty"`
}
