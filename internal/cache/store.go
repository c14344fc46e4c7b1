package cache

import (
	"sort"
	"sync"

	"mockpit/internal/models"
)

// Store is the locally held mapping set, treated as the currently displayed
// truth. Records are keyed by canonical identifier with a secondary index
// over every alias, so lookups accept any id form a server version may use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.Mapping // canonical id -> record
	aliases map[string]string          // any alias -> canonical id
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*models.Mapping),
		aliases: make(map[string]string),
	}
}

// Set ingests a record, registering every alias. Carrier records and records
// without a usable identifier are skipped. Returns the canonical id, or ""
// when skipped.
func (s *Store) Set(m *models.Mapping) string {
	if m == nil || IsCarrier(m) {
		return ""
	}
	ids := models.ExtractIdentifiers(m)
	if ids.Empty() {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(m, ids)
}

func (s *Store) setLocked(m *models.Mapping, ids models.Identifiers) string {
	// An alias may already point at an existing record under a different
	// canonical id; fold the two rows together instead of duplicating.
	canonical := ids.Canonical
	for _, alias := range ids.Aliases {
		if existing, ok := s.aliases[alias]; ok {
			canonical = existing
			break
		}
	}

	s.records[canonical] = m
	s.aliases[canonical] = canonical
	for _, alias := range ids.Aliases {
		s.aliases[alias] = canonical
	}
	return canonical
}

// Get looks a record up by any alias.
func (s *Store) Get(id string) (*models.Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canonical, ok := s.aliases[models.NormalizeID(id)]
	if !ok {
		return nil, false
	}
	m, ok := s.records[canonical]
	return m, ok
}

// Has reports whether any alias resolves to a held record.
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Resolve returns the canonical id an alias maps to.
func (s *Store) Resolve(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canonical, ok := s.aliases[models.NormalizeID(id)]
	return canonical, ok
}

// Delete removes a record and every alias pointing at it, not just the alias
// used to address the removal. Returns whether a record was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.aliases[models.NormalizeID(id)]
	if !ok {
		return false
	}
	delete(s.records, canonical)
	for alias, target := range s.aliases {
		if target == canonical {
			delete(s.aliases, alias)
		}
	}
	return true
}

// Merge applies a partial update onto an existing record. Top-level fields
// from the partial override, but the request, response, and metadata groups
// are merged key-by-key so a partial that only changes response.status does
// not erase other known response fields. A miss falls back to Set.
func (s *Store) Merge(id string, partial *models.Mapping) string {
	if partial == nil {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.aliases[models.NormalizeID(id)]
	if !ok {
		ids := models.ExtractIdentifiers(partial)
		if ids.Empty() || IsCarrier(partial) {
			return ""
		}
		return s.setLocked(partial, ids)
	}

	existing := s.records[canonical]
	merged := mergeMapping(existing, partial)
	s.records[canonical] = merged
	for _, alias := range models.ExtractIdentifiers(merged).Aliases {
		s.aliases[alias] = canonical
	}
	return canonical
}

// SeedFrom populates an empty store from an already-known record list. A
// non-empty store is left untouched, so calling it on every read path is
// safe. Returns whether seeding happened.
func (s *Store) SeedFrom(records []*models.Mapping) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) > 0 || len(records) == 0 {
		return false
	}
	for _, m := range records {
		if m == nil || IsCarrier(m) {
			continue
		}
		ids := models.ExtractIdentifiers(m)
		if ids.Empty() {
			continue
		}
		s.setLocked(m, ids)
	}
	return len(s.records) > 0
}

// Reset replaces the entire held set in one step.
func (s *Store) Reset(records []*models.Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*models.Mapping, len(records))
	s.aliases = make(map[string]string, len(records))
	for _, m := range records {
		if m == nil || IsCarrier(m) {
			continue
		}
		ids := models.ExtractIdentifiers(m)
		if ids.Empty() {
			continue
		}
		s.setLocked(m, ids)
	}
}

// Clear drops everything.
func (s *Store) Clear() {
	s.Reset(nil)
}

// Count returns the number of held records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Values returns the held records in a deterministic order (name, then
// canonical id) so repeated renders and snapshots are stable.
func (s *Store) Values() []*models.Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Mapping, 0, len(s.records))
	for _, m := range s.records {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Name, out[j].Name
		if ni != nj {
			return ni < nj
		}
		return models.ExtractIdentifiers(out[i]).Canonical < models.ExtractIdentifiers(out[j]).Canonical
	})
	return out
}

func mergeMapping(existing, partial *models.Mapping) *models.Mapping {
	if existing == nil {
		return partial.Clone()
	}
	out := existing.Clone()

	if partial.ID != "" {
		out.ID = partial.ID
	}
	if partial.UUID != "" {
		out.UUID = partial.UUID
	}
	if partial.Name != "" {
		out.Name = partial.Name
	}
	if partial.Persistent {
		out.Persistent = true
	}
	if partial.Priority != 0 {
		out.Priority = partial.Priority
	}
	if partial.ScenarioName != "" {
		out.ScenarioName = partial.ScenarioName
	}
	if partial.RequiredScenarioState != "" {
		out.RequiredScenarioState = partial.RequiredScenarioState
	}
	if partial.NewScenarioState != "" {
		out.NewScenarioState = partial.NewScenarioState
	}

	out.Request = mergeRequest(out.Request, partial.Request)
	out.Response = mergeResponse(out.Response, partial.Response)
	out.Metadata = mergeAnyMap(out.Metadata, partial.Metadata)
	return out
}

func mergeRequest(existing, partial *models.RequestSpec) *models.RequestSpec {
	if partial == nil {
		return existing
	}
	if existing == nil {
		clone := *partial
		return &clone
	}
	out := *existing
	if partial.Method != "" {
		out.Method = partial.Method
	}
	if partial.URL != "" {
		out.URL = partial.URL
	}
	if partial.URLPattern != "" {
		out.URLPattern = partial.URLPattern
	}
	if partial.URLPath != "" {
		out.URLPath = partial.URLPath
	}
	if partial.URLPathPattern != "" {
		out.URLPathPattern = partial.URLPathPattern
	}
	out.Headers = mergeAnyMap(out.Headers, partial.Headers)
	out.QueryParameters = mergeAnyMap(out.QueryParameters, partial.QueryParameters)
	if partial.BodyPatterns != nil {
		out.BodyPatterns = partial.BodyPatterns
	}
	return &out
}

func mergeResponse(existing, partial *models.ResponseSpec) *models.ResponseSpec {
	if partial == nil {
		return existing
	}
	if existing == nil {
		clone := *partial
		return &clone
	}
	out := *existing
	if partial.Status != 0 {
		out.Status = partial.Status
	}
	if partial.Body != "" {
		out.Body = partial.Body
	}
	if partial.JSONBody != nil {
		out.JSONBody = partial.JSONBody
	}
	if partial.FixedDelayMilliseconds != 0 {
		out.FixedDelayMilliseconds = partial.FixedDelayMilliseconds
	}
	if partial.Headers != nil {
		if out.Headers == nil {
			out.Headers = make(map[string]string, len(partial.Headers))
		}
		for k, v := range partial.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}

func mergeAnyMap(existing, partial map[string]any) map[string]any {
	if partial == nil {
		return existing
	}
	if existing == nil {
		out := make(map[string]any, len(partial))
		for k, v := range partial {
			out[k] = v
		}
		return out
	}
	for k, v := range partial {
		existing[k] = v
	}
	return existing
}
