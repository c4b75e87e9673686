package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// mockVectorStore implements domain.VectorStore in memory.
type mockVectorStore struct {
	memories   map[string]*domain.Memory
	failCreate bool
	similar    []domain.MemoryWithScore
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{memories: make(map[string]*domain.Memory)}
}

func (m *mockVectorStore) Create(ctx context.Context, mem *domain.Memory) error {
	if m.failCreate {
		return errors.New("vector store unavailable")
	}
	cp := *mem
	m.memories[mem.ID] = &cp
	return nil
}

func (m *mockVectorStore) GetByID(ctx context.Context, id, userID string) (*domain.Memory, error) {
	mem, ok := m.memories[id]
	if !ok || mem.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *mockVectorStore) Delete(ctx context.Context, id, userID string) error {
	mem, ok := m.memories[id]
	if !ok || mem.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.memories, id)
	return nil
}

func (m *mockVectorStore) OwnerOf(ctx context.Context, id string) (string, error) {
	mem, ok := m.memories[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return mem.UserID, nil
}

func (m *mockVectorStore) SetStoredFlags(ctx context.Context, id string, flags map[string]bool) error {
	mem, ok := m.memories[id]
	if !ok {
		return store.ErrNotFound
	}
	if mem.Metadata == nil {
		mem.Metadata = map[string]any{}
	}
	for k, v := range flags {
		mem.Metadata[k] = v
	}
	return nil
}

func (m *mockVectorStore) Search(ctx context.Context, embedding []float32, userID string, opts domain.SearchOpts) ([]domain.MemoryWithScore, error) {
	var results []domain.MemoryWithScore
	for _, mem := range m.memories {
		if mem.UserID != userID {
			continue
		}
		if opts.Layer != nil && mem.Layer != *opts.Layer {
			continue
		}
		if opts.Type != nil && mem.Type != *opts.Type {
			continue
		}
		results = append(results, domain.MemoryWithScore{Memory: *mem, Score: 0.85, Source: "semantic"})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *mockVectorStore) FindSimilar(ctx context.Context, userID string, embedding []float32, threshold float64, limit int) ([]domain.MemoryWithScore, error) {
	return m.similar, nil
}

func (m *mockVectorStore) ListRecent(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	var results []domain.Memory
	for _, mem := range m.memories {
		if mem.UserID == userID {
			results = append(results, *mem)
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *mockVectorStore) ListOlderThan(ctx context.Context, userID string, cutoff time.Time, limit int) ([]domain.Memory, error) {
	var results []domain.Memory
	for _, mem := range m.memories {
		if mem.UserID == userID && mem.Timestamp.Before(cutoff) {
			results = append(results, *mem)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Timestamp.Before(results[j].Timestamp) })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *mockVectorStore) UpdateImportance(ctx context.Context, id string, importance float64) error {
	mem, ok := m.memories[id]
	if !ok {
		return store.ErrNotFound
	}
	mem.Importance = importance
	return nil
}

func (m *mockVectorStore) IncrementUsage(ctx context.Context, id string) error {
	mem, ok := m.memories[id]
	if !ok {
		return store.ErrNotFound
	}
	mem.UsageCount++
	return nil
}

// mockEpisodicStore implements domain.EpisodicStore in memory.
type mockEpisodicStore struct {
	records map[string]*domain.EpisodicRecord
	failAll bool
}

func newMockEpisodicStore() *mockEpisodicStore {
	return &mockEpisodicStore{records: make(map[string]*domain.EpisodicRecord)}
}

func (m *mockEpisodicStore) Create(ctx context.Context, r *domain.EpisodicRecord) error {
	if m.failAll {
		return errors.New("episodic store unavailable")
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockEpisodicStore) Delete(ctx context.Context, id, userID string) error {
	r, ok := m.records[id]
	if !ok || r.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockEpisodicStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.records[id]
	return ok, nil
}

func (m *mockEpisodicStore) GetByTimeRange(ctx context.Context, userID string, start, end time.Time, limit int) ([]domain.EpisodicRecord, error) {
	if m.failAll {
		return nil, errors.New("episodic store unavailable")
	}
	var results []domain.EpisodicRecord
	for _, r := range m.records {
		if r.UserID != userID {
			continue
		}
		if r.EventTimestamp.Before(start) || r.EventTimestamp.After(end) {
			continue
		}
		results = append(results, *r)
	}
	return results, nil
}

// mockEmotionalStore implements domain.EmotionalStore in memory.
type mockEmotionalStore struct {
	records map[string]*domain.EmotionalRecord
}

func newMockEmotionalStore() *mockEmotionalStore {
	return &mockEmotionalStore{records: make(map[string]*domain.EmotionalRecord)}
}

func (m *mockEmotionalStore) Create(ctx context.Context, r *domain.EmotionalRecord) error {
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockEmotionalStore) Delete(ctx context.Context, id, userID string) error {
	r, ok := m.records[id]
	if !ok || r.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockEmotionalStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.records[id]
	return ok, nil
}

func (m *mockEmotionalStore) GetByTimeRange(ctx context.Context, userID string, start, end time.Time, limit int) ([]domain.EmotionalRecord, error) {
	var results []domain.EmotionalRecord
	for _, r := range m.records {
		if r.UserID == userID {
			results = append(results, *r)
		}
	}
	return results, nil
}

// mockProceduralStore implements domain.ProceduralStore in memory.
type mockProceduralStore struct {
	skills       map[string]*domain.ProceduralRecord // keyed by id
	progressions []domain.SkillProgression
}

func newMockProceduralStore() *mockProceduralStore {
	return &mockProceduralStore{skills: make(map[string]*domain.ProceduralRecord)}
}

func (m *mockProceduralStore) Upsert(ctx context.Context, r *domain.ProceduralRecord) error {
	for _, existing := range m.skills {
		if existing.UserID == r.UserID && existing.SkillName == r.SkillName {
			if existing.ProficiencyLevel != r.ProficiencyLevel {
				ts := time.Now().UTC()
				if r.LastPracticed != nil {
					ts = *r.LastPracticed
				}
				m.progressions = append([]domain.SkillProgression{{
					SkillID:   existing.ID,
					UserID:    r.UserID,
					FromLevel: existing.ProficiencyLevel,
					ToLevel:   r.ProficiencyLevel,
					Timestamp: ts,
				}}, m.progressions...)
			}
			existing.ProficiencyLevel = r.ProficiencyLevel
			existing.PracticeCount++
			r.ID = existing.ID
			r.PracticeCount = existing.PracticeCount
			return nil
		}
	}
	cp := *r
	m.skills[r.ID] = &cp
	return nil
}

func (m *mockProceduralStore) Delete(ctx context.Context, id, userID string) error {
	r, ok := m.skills[id]
	if !ok || r.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.skills, id)
	return nil
}

func (m *mockProceduralStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.skills[id]
	return ok, nil
}

func (m *mockProceduralStore) GetByUser(ctx context.Context, userID string) ([]domain.ProceduralRecord, error) {
	var results []domain.ProceduralRecord
	for _, r := range m.skills {
		if r.UserID == userID {
			results = append(results, *r)
		}
	}
	return results, nil
}

func (m *mockProceduralStore) GetBySkillName(ctx context.Context, userID, skillName string) (*domain.ProceduralRecord, error) {
	for _, r := range m.skills {
		if r.UserID == userID && r.SkillName == skillName {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockProceduralStore) Progressions(ctx context.Context, userID string) ([]domain.SkillProgression, error) {
	var trail []domain.SkillProgression
	for _, p := range m.progressions {
		if p.UserID == userID {
			trail = append(trail, p)
		}
	}
	return trail, nil
}

// mockPortfolioStore implements domain.PortfolioStore in memory.
type mockPortfolioStore struct {
	holdings     map[string]*domain.PortfolioHolding // keyed by userID/ticker
	transactions []domain.PortfolioTransaction
	snapshots    []domain.PortfolioSnapshot
	preferences  []domain.PortfolioPreference
}

func newMockPortfolioStore() *mockPortfolioStore {
	return &mockPortfolioStore{holdings: make(map[string]*domain.PortfolioHolding)}
}

func holdingKey(userID, ticker string) string { return userID + "/" + ticker }

func (m *mockPortfolioStore) UpsertHolding(ctx context.Context, h *domain.PortfolioHolding) error {
	cp := *h
	m.holdings[holdingKey(h.UserID, h.Ticker)] = &cp
	return nil
}

func (m *mockPortfolioStore) GetHolding(ctx context.Context, userID, ticker string) (*domain.PortfolioHolding, error) {
	h, ok := m.holdings[holdingKey(userID, ticker)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *mockPortfolioStore) ListHoldings(ctx context.Context, userID string) ([]domain.PortfolioHolding, error) {
	var results []domain.PortfolioHolding
	for _, h := range m.holdings {
		if h.UserID == userID {
			results = append(results, *h)
		}
	}
	return results, nil
}

func (m *mockPortfolioStore) DeleteHolding(ctx context.Context, userID, ticker string) error {
	key := holdingKey(userID, ticker)
	if _, ok := m.holdings[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.holdings, key)
	return nil
}

func (m *mockPortfolioStore) AppendTransaction(ctx context.Context, t *domain.PortfolioTransaction) error {
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *mockPortfolioStore) DeleteTransaction(ctx context.Context, id, userID string) error {
	for i, t := range m.transactions {
		if t.ID == id && t.UserID == userID {
			m.transactions = append(m.transactions[:i], m.transactions[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockPortfolioStore) TransactionExists(ctx context.Context, id string) (bool, error) {
	for _, t := range m.transactions {
		if t.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPortfolioStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.PortfolioTransaction, error) {
	var results []domain.PortfolioTransaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			results = append(results, t)
		}
	}
	return results, nil
}

func (m *mockPortfolioStore) CreateSnapshot(ctx context.Context, s *domain.PortfolioSnapshot) error {
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *mockPortfolioStore) ListSnapshots(ctx context.Context, userID string, start, end time.Time) ([]domain.PortfolioSnapshot, error) {
	return m.snapshots, nil
}

func (m *mockPortfolioStore) UpsertPreference(ctx context.Context, p *domain.PortfolioPreference) error {
	for i, existing := range m.preferences {
		if existing.UserID == p.UserID && existing.Name == p.Name {
			m.preferences[i] = *p
			return nil
		}
	}
	m.preferences = append(m.preferences, *p)
	return nil
}

func (m *mockPortfolioStore) ListPreferences(ctx context.Context, userID string) ([]domain.PortfolioPreference, error) {
	var prefs []domain.PortfolioPreference
	for _, p := range m.preferences {
		if p.UserID == userID {
			prefs = append(prefs, p)
		}
	}
	return prefs, nil
}

// mockCache implements domain.Cache in memory.
type mockCache struct {
	profiles   map[string][]byte
	namespaces map[string]int
	shortTerm  map[string]*domain.Memory
	activity   map[string]map[string]bool
}

func newMockCache() *mockCache {
	return &mockCache{
		profiles:   make(map[string][]byte),
		namespaces: make(map[string]int),
		shortTerm:  make(map[string]*domain.Memory),
		activity:   make(map[string]map[string]bool),
	}
}

func (m *mockCache) GetProfile(ctx context.Context, userID string) ([]byte, bool, error) {
	payload, ok := m.profiles[userID]
	return payload, ok, nil
}

func (m *mockCache) SetProfile(ctx context.Context, userID string, payload []byte, ttl time.Duration) error {
	m.profiles[userID] = payload
	return nil
}

func (m *mockCache) BumpNamespace(ctx context.Context, userID string) error {
	m.namespaces[userID]++
	// A bump invalidates whatever was cached under the old namespace.
	delete(m.profiles, userID)
	return nil
}

func (m *mockCache) SetShortTerm(ctx context.Context, mem *domain.Memory, ttl time.Duration) error {
	cp := *mem
	m.shortTerm[mem.UserID+"/"+mem.ID] = &cp
	return nil
}

func (m *mockCache) DeleteShortTerm(ctx context.Context, userID, memoryID string) error {
	delete(m.shortTerm, userID+"/"+memoryID)
	return nil
}

func (m *mockCache) TouchActivity(ctx context.Context, userID, day string) error {
	if m.activity[day] == nil {
		m.activity[day] = make(map[string]bool)
	}
	m.activity[day][userID] = true
	return nil
}

func (m *mockCache) ActiveUsers(ctx context.Context, day string) ([]string, error) {
	var users []string
	for u := range m.activity[day] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (m *mockCache) Ping(ctx context.Context) error { return nil }

// mockEmbeddingClient returns fixed vectors, overridable per text.
type mockEmbeddingClient struct {
	vectors map[string][]float32
	err     error
}

func newMockEmbeddingClient() *mockEmbeddingClient {
	return &mockEmbeddingClient{vectors: make(map[string][]float32)}
}

func (m *mockEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, 8)
	v[0] = 1
	return v, nil
}

// mockLLMClient answers each prompt with a canned JSON payload.
type mockLLMClient struct {
	responses map[string]string
	err       error
	calls     int
}

func newMockLLMClient() *mockLLMClient {
	return &mockLLMClient{responses: make(map[string]string)}
}

func (m *mockLLMClient) CallStructured(ctx context.Context, prompt, input string, out any) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	payload, ok := m.responses[prompt]
	if !ok {
		return errors.New("no canned response for prompt")
	}
	return json.Unmarshal([]byte(payload), out)
}

// mockProfileApplier records profile updates handed to it.
type mockProfileApplier struct {
	applied []domain.ProfileUpdate
	err     error
}

func (m *mockProfileApplier) Apply(ctx context.Context, userID string, updates []domain.ProfileUpdate) (*domain.UserProfile, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.applied = append(m.applied, updates...)
	return &domain.UserProfile{UserID: userID}, nil
}

// mockIntentStore implements domain.IntentStore in memory.
type mockIntentStore struct {
	intents    map[string]*domain.ScheduledIntent
	executions []domain.IntentExecution
}

func newMockIntentStore() *mockIntentStore {
	return &mockIntentStore{intents: make(map[string]*domain.ScheduledIntent)}
}

func (m *mockIntentStore) Create(ctx context.Context, i *domain.ScheduledIntent) error {
	cp := *i
	m.intents[i.ID] = &cp
	return nil
}

func (m *mockIntentStore) GetByID(ctx context.Context, id string) (*domain.ScheduledIntent, error) {
	i, ok := m.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *mockIntentStore) ListByUser(ctx context.Context, userID string) ([]domain.ScheduledIntent, error) {
	var results []domain.ScheduledIntent
	for _, i := range m.intents {
		if i.UserID == userID {
			results = append(results, *i)
		}
	}
	return results, nil
}

func (m *mockIntentStore) CountActive(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, i := range m.intents {
		if i.UserID == userID && i.Enabled {
			count++
		}
	}
	return count, nil
}

func (m *mockIntentStore) Update(ctx context.Context, i *domain.ScheduledIntent) error {
	if _, ok := m.intents[i.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *i
	m.intents[i.ID] = &cp
	return nil
}

func (m *mockIntentStore) Delete(ctx context.Context, id, userID string) error {
	i, ok := m.intents[id]
	if !ok || i.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.intents, id)
	return nil
}

func (m *mockIntentStore) Pending(ctx context.Context, userID string, limit int, now time.Time, claimWindow time.Duration) ([]domain.PendingIntent, error) {
	var results []domain.PendingIntent
	for _, i := range m.intents {
		if userID != "" && i.UserID != userID {
			continue
		}
		if !i.Enabled || i.NextCheck == nil || i.NextCheck.After(now) {
			continue
		}
		if i.ClaimedAt != nil && i.ClaimedAt.After(now.Add(-claimWindow)) {
			continue
		}
		if cd := i.TriggerCondition.CooldownHours; cd > 0 && i.LastExecuted != nil &&
			i.LastExecuted.After(now.Add(-time.Duration(cd*float64(time.Hour)))) {
			continue
		}
		results = append(results, domain.PendingIntent{ScheduledIntent: *i})
	}
	sort.Slice(results, func(a, b int) bool { return results[a].ID < results[b].ID })
	return results, nil
}

func (m *mockIntentStore) Claim(ctx context.Context, id string, now time.Time, claimWindow time.Duration) (*domain.ScheduledIntent, error) {
	i, ok := m.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if i.ClaimedAt != nil && i.ClaimedAt.After(now.Add(-claimWindow)) {
		return nil, store.ErrConflict
	}
	claimed := now
	i.ClaimedAt = &claimed
	i.LastChecked = &claimed
	cp := *i
	return &cp, nil
}

func (m *mockIntentStore) Fire(ctx context.Context, i *domain.ScheduledIntent) error {
	if _, ok := m.intents[i.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *i
	cp.ClaimedAt = nil
	m.intents[i.ID] = &cp
	return nil
}

func (m *mockIntentStore) AppendExecution(ctx context.Context, e *domain.IntentExecution) error {
	m.executions = append(m.executions, *e)
	return nil
}

func (m *mockIntentStore) History(ctx context.Context, intentID string, limit int) ([]domain.IntentExecution, error) {
	var results []domain.IntentExecution
	for _, e := range m.executions {
		if e.IntentID == intentID {
			results = append(results, e)
		}
	}
	return results, nil
}

// mockConsentStore implements domain.ConsentStore in memory.
type mockConsentStore struct {
	consents map[string]*domain.HookConsent
	seen     map[string]bool
}

func newMockConsentStore() *mockConsentStore {
	return &mockConsentStore{
		consents: make(map[string]*domain.HookConsent),
		seen:     make(map[string]bool),
	}
}

func consentKey(userID string, hook domain.HookKind) string {
	return userID + "/" + string(hook)
}

func (m *mockConsentStore) Upsert(ctx context.Context, c *domain.HookConsent) error {
	cp := *c
	m.consents[consentKey(c.UserID, c.Hook)] = &cp
	return nil
}

func (m *mockConsentStore) Get(ctx context.Context, userID string, hook domain.HookKind) (*domain.HookConsent, error) {
	c, ok := m.consents[consentKey(userID, hook)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConsentStore) MarkEventSeen(ctx context.Context, userID string, hook domain.HookKind, sourceMessageID string) (bool, error) {
	key := strings.Join([]string{userID, string(hook), sourceMessageID}, "/")
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

// mockProfileStore implements domain.ProfileStore in memory, recomputing
// confidence and completeness the way the real store does.
type mockProfileStore struct {
	profiles map[string]*domain.UserProfile
	fields   map[string]*domain.ProfileField
	sources  []domain.ProfileSource
	scores   map[string]domain.ConfidenceScore
}

func newMockProfileStore() *mockProfileStore {
	return &mockProfileStore{
		profiles: make(map[string]*domain.UserProfile),
		fields:   make(map[string]*domain.ProfileField),
		scores:   make(map[string]domain.ConfidenceScore),
	}
}

func fieldKey(userID string, category domain.ProfileCategory, fieldName string) string {
	return strings.Join([]string{userID, string(category), fieldName}, "/")
}

func (m *mockProfileStore) UpsertFields(ctx context.Context, userID string, updates []domain.ProfileUpdate, now time.Time) (*domain.UserProfile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		p = &domain.UserProfile{UserID: userID, TotalFields: domain.ProfileTotalFields, CreatedAt: now}
		m.profiles[userID] = p
	}
	for _, u := range updates {
		m.fields[fieldKey(userID, u.Category, u.FieldName)] = &domain.ProfileField{
			UserID:     userID,
			Category:   u.Category,
			FieldName:  u.FieldName,
			FieldValue: u.FieldValue,
			ValueType:  u.ValueType,
			UpdatedAt:  now,
		}
		m.sources = append(m.sources, domain.ProfileSource{
			ID:             "src_" + u.FieldName,
			UserID:         userID,
			Category:       u.Category,
			FieldName:      u.FieldName,
			SourceMemoryID: u.SourceMemoryID,
			SourceType:     u.SourceType,
			ExtractedAt:    now,
		})

		var sources []domain.ProfileSource
		for _, s := range m.sources {
			if s.UserID == userID && s.Category == u.Category && s.FieldName == u.FieldName {
				sources = append(sources, s)
			}
		}
		score := domain.ComputeConfidence(userID, u.Category, u.FieldName, sources, now)
		if u.SourceType == domain.SourceExplicit && u.Confidence >= 100 {
			score.OverallConfidence = 100
		}
		m.scores[fieldKey(userID, u.Category, u.FieldName)] = score
	}
	p.PopulatedFields = m.countFields(userID)
	p.CompletenessPct = domain.Completeness(p.PopulatedFields, p.TotalFields)
	p.LastUpdated = now
	cp := *p
	return &cp, nil
}

func (m *mockProfileStore) countFields(userID string) int {
	count := 0
	for _, f := range m.fields {
		if f.UserID == userID {
			count++
		}
	}
	return count
}

func (m *mockProfileStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileStore) GetFields(ctx context.Context, userID string) ([]domain.ProfileField, error) {
	var fields []domain.ProfileField
	for _, f := range m.fields {
		if f.UserID == userID {
			fields = append(fields, *f)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].FieldName < fields[j].FieldName })
	return fields, nil
}

func (m *mockProfileStore) GetFieldsByCategory(ctx context.Context, userID string, category domain.ProfileCategory) ([]domain.ProfileField, error) {
	var fields []domain.ProfileField
	for _, f := range m.fields {
		if f.UserID == userID && f.Category == category {
			fields = append(fields, *f)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].FieldName < fields[j].FieldName })
	return fields, nil
}

func (m *mockProfileStore) GetConfidenceScores(ctx context.Context, userID string) ([]domain.ConfidenceScore, error) {
	var scores []domain.ConfidenceScore
	for key, s := range m.scores {
		if s.UserID == userID && m.fields[key] != nil {
			scores = append(scores, s)
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].FieldName < scores[j].FieldName })
	return scores, nil
}

func (m *mockProfileStore) GetSources(ctx context.Context, userID string) ([]domain.ProfileSource, error) {
	var sources []domain.ProfileSource
	for _, s := range m.sources {
		if s.UserID == userID {
			sources = append(sources, s)
		}
	}
	return sources, nil
}

func (m *mockProfileStore) DeleteField(ctx context.Context, userID string, category domain.ProfileCategory, fieldName string) error {
	key := fieldKey(userID, category, fieldName)
	if _, ok := m.fields[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.fields, key)
	if p, ok := m.profiles[userID]; ok {
		p.PopulatedFields = m.countFields(userID)
		p.CompletenessPct = domain.Completeness(p.PopulatedFields, p.TotalFields)
	}
	return nil
}

func (m *mockProfileStore) DeleteProfile(ctx context.Context, userID string) error {
	if _, ok := m.profiles[userID]; !ok {
		return store.ErrNotFound
	}
	delete(m.profiles, userID)
	for key, f := range m.fields {
		if f.UserID == userID {
			delete(m.fields, key)
		}
	}
	kept := m.sources[:0]
	for _, s := range m.sources {
		if s.UserID != userID {
			kept = append(kept, s)
		}
	}
	m.sources = kept
	return nil
}
