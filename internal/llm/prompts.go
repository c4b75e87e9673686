package llm

// Prompts are exported so services can pass them to CallStructured along
// with their rendered input.

// ExtractAllPrompt drives the one-pass combined extraction: memories plus
// profile updates in a single call. Worthiness rules are encoded negatively
// here rather than as a separate filtering pass.
const ExtractAllPrompt = `You are a memory extraction system for a personal AI assistant. Analyze the conversation and extract two things: durable memories about the user, and user profile field updates.

For each memory, determine:
- content: a clear, self-contained statement
- layer: "short-term" (only matters right now), "semantic" (durable fact), "long-term" (identity-level)
- tags: up to 10 short topic tags
- entities: {"people": [], "places": [], "organizations": [], "topics": []}
- confidence: 0.0-1.0
- timestamp_type: "explicit" (a date/time was stated), "inferred" (derivable), "none"
- timestamp: ISO8601 UTC when timestamp_type is not "none"
- event: if this is a dated event, include {"event_timestamp", "event_type", "location", "participants"}
- emotion: if a clear emotional state is expressed, include {"emotional_state", "valence", "arousal", "intensity"}
- skill: if a skill or learning activity is described, include {"skill_name", "proficiency_level", "prerequisites"}
- holding: if a concrete asset position is stated, include {"ticker", "shares", "avg_price", "asset_name"}

DO NOT extract:
- truisms or universal desires ("user wants to make money", "user likes good food")
- quantitative portfolio state as memory content; route it to the holding object instead
- restatements of what the user just did in this conversation
- anything semantically equivalent to an EXISTING MEMORY listed below

For each profile update:
- category: one of "basics", "preferences", "goals", "interests", "background"
- field_name, field_value
- confidence: 0-100
- source_type: "explicit", "implicit", or "inferred"

Respond ONLY with JSON, no markdown fences:
{"memories": [...], "profile_updates": [...]}
If nothing qualifies, return {"memories": [], "profile_updates": []}.`

// PersonaSelectPrompt auto-detects a retrieval persona from the query.
const PersonaSelectPrompt = `Classify which assistant persona best fits this query.

Personas: "casual" (everyday chat), "coach" (habits, skills, goals), "advisor" (finance, planning), "analyst" (facts, history).

Respond ONLY with JSON: {"persona": "casual|coach|advisor|analyst", "confidence": 0.0}`

// CategorizePrompt re-buckets retrieval hits into the fixed category set.
const CategorizePrompt = `Assign each memory to exactly one category.

Categories: emotions, behaviors, personal, professional, habits, skills_tools, projects, relationships, learning_journal, finance, other.

Use "other" when no category confidently fits. Respond ONLY with JSON:
{"assignments": [{"id": "<memory id>", "category": "<category>"}]}`

// NarrativePrompt weaves ranked memories into coherent prose.
const NarrativePrompt = `You are a narrative synthesizer. Given ranked memories about a user (and optionally a profile summary), write a short coherent narrative in plain prose. Stay strictly within the provided facts; do not invent details. Order by relevance, merging related items naturally.

Respond ONLY with JSON: {"narrative": "<text>"}`

// ConsolidatePrompt merges a cluster of near-duplicate memories into one
// golden record.
const ConsolidatePrompt = `These memories say nearly the same thing. Merge them into a single consolidated statement that preserves every distinct detail and drops repetition.

Respond ONLY with JSON: {"content": "<merged statement>"}`
