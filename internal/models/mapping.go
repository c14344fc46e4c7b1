package models

import "strings"

// Mapping represents a single stub mapping held by the remote mock server.
// The JSON shape mirrors the admin API wire format; the dashboard frontend
// receives it unchanged.
type Mapping struct {
	ID                    string         `json:"id,omitempty"`
	UUID                  string         `json:"uuid,omitempty"` // Older server versions key on uuid instead of id
	Name                  string         `json:"name,omitempty"`
	Persistent            bool           `json:"persistent,omitempty"`
	Priority              int            `json:"priority,omitempty"`
	ScenarioName          string         `json:"scenarioName,omitempty"`
	RequiredScenarioState string         `json:"requiredScenarioState,omitempty"`
	NewScenarioState      string         `json:"newScenarioState,omitempty"`
	Request               *RequestSpec   `json:"request,omitempty"`
	Response              *ResponseSpec  `json:"response,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// RequestSpec describes how incoming requests are matched by a mapping.
type RequestSpec struct {
	Method          string           `json:"method,omitempty"`
	URL             string           `json:"url,omitempty"`
	URLPattern      string           `json:"urlPattern,omitempty"`
	URLPath         string           `json:"urlPath,omitempty"`
	URLPathPattern  string           `json:"urlPathPattern,omitempty"`
	Headers         map[string]any   `json:"headers,omitempty"`
	QueryParameters map[string]any   `json:"queryParameters,omitempty"`
	BodyPatterns    []map[string]any `json:"bodyPatterns,omitempty"`
}

// ResponseSpec describes the stubbed response a mapping serves.
type ResponseSpec struct {
	Status                 int               `json:"status,omitempty"`
	Body                   string            `json:"body,omitempty"`
	JSONBody               any               `json:"jsonBody,omitempty"`
	Headers                map[string]string `json:"headers,omitempty"`
	FixedDelayMilliseconds int               `json:"fixedDelayMilliseconds,omitempty"`
}

// Identifiers carries every alias a mapping may be keyed by, resolved once at
// ingestion. Different server versions and write paths return the id in
// different fields (id, uuid, or nested inside metadata); all aliases denote
// the same remote entity.
type Identifiers struct {
	Canonical string
	Aliases   []string
}

// Empty reports whether no usable identifier was found on the record.
func (ids Identifiers) Empty() bool {
	return ids.Canonical == ""
}

// NormalizeID canonicalizes an alias for index lookups. UUIDs compare
// case-insensitively on the wire, so aliases are lowered.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ExtractIdentifiers collects the alias id fields of a mapping in priority
// order: primary id, uuid, then an id nested in the metadata block. The
// canonical identifier is the first non-empty alias.
func ExtractIdentifiers(m *Mapping) Identifiers {
	if m == nil {
		return Identifiers{}
	}

	var ids Identifiers
	add := func(raw string) {
		norm := NormalizeID(raw)
		if norm == "" {
			return
		}
		for _, existing := range ids.Aliases {
			if existing == norm {
				return
			}
		}
		ids.Aliases = append(ids.Aliases, norm)
		if ids.Canonical == "" {
			ids.Canonical = norm
		}
	}

	add(m.ID)
	add(m.UUID)
	if m.Metadata != nil {
		if v, ok := m.Metadata["id"].(string); ok {
			add(v)
		}
		if v, ok := m.Metadata["mappingId"].(string); ok {
			add(v)
		}
	}
	return ids
}

// Clone returns a deep copy of the mapping. The cache hands clones to
// handlers so the store's records are never aliased outside the engine.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	out := *m
	if m.Request != nil {
		req := *m.Request
		req.Headers = cloneAnyMap(m.Request.Headers)
		req.QueryParameters = cloneAnyMap(m.Request.QueryParameters)
		if m.Request.BodyPatterns != nil {
			req.BodyPatterns = make([]map[string]any, len(m.Request.BodyPatterns))
			for i, bp := range m.Request.BodyPatterns {
				req.BodyPatterns[i] = cloneAnyMap(bp)
			}
		}
		out.Request = &req
	}
	if m.Response != nil {
		resp := *m.Response
		if m.Response.Headers != nil {
			resp.Headers = make(map[string]string, len(m.Response.Headers))
			for k, v := range m.Response.Headers {
				resp.Headers[k] = v
			}
		}
		out.Response = &resp
	}
	out.Metadata = cloneAnyMap(m.Metadata)
	return &out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneAnyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// SlimMapping is the reduced projection of a Mapping stored inside the
// carrier snapshot. Derived, never authoritative; regenerated on every
// snapshot write.
type SlimMapping struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	ScenarioName string         `json:"scenarioName,omitempty"`
	Method       string         `json:"method,omitempty"`
	URL          string         `json:"url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Slim reduces a mapping to its snapshot projection.
func (m *Mapping) Slim() SlimMapping {
	slim := SlimMapping{
		ID:           ExtractIdentifiers(m).Canonical,
		Name:         m.Name,
		Priority:     m.Priority,
		ScenarioName: m.ScenarioName,
		Metadata:     cloneAnyMap(m.Metadata),
	}
	if m.Request != nil {
		slim.Method = m.Request.Method
		slim.URL = firstNonEmpty(m.Request.URL, m.Request.URLPattern, m.Request.URLPath, m.Request.URLPathPattern)
	}
	return slim
}

// Inflate rebuilds a displayable Mapping from a snapshot projection. Only the
// slim fields are populated; the authoritative fetch fills in the rest.
func (s SlimMapping) Inflate() *Mapping {
	m := &Mapping{
		ID:           s.ID,
		Name:         s.Name,
		Priority:     s.Priority,
		ScenarioName: s.ScenarioName,
		Metadata:     cloneAnyMap(s.Metadata),
	}
	if s.Method != "" || s.URL != "" {
		m.Request = &RequestSpec{Method: s.Method, URL: s.URL}
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
