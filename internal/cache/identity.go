package cache

import (
	"strings"

	"mockpit/internal/models"
)

// Reserved identity of the carrier record. The snapshot is persisted inside
// the cached collection itself, so the carrier must be recognizable by more
// than one marker: servers are not guaranteed to preserve the fixed id, and
// other clients may strip metadata.
const (
	// CarrierID is the well-known identifier the carrier is addressed by.
	CarrierID = "00000000-0000-0000-0000-6d6f636b7069"
	// CarrierName is the reserved mapping name.
	CarrierName = "mockpit-cache-snapshot"
	// CarrierURL is the synthetic request URL; it never matches real traffic.
	CarrierURL = "/__mockpit/cache-snapshot"
	// CarrierMetaKey and CarrierMetaValue tag the carrier's metadata block.
	CarrierMetaKey   = "mockpit"
	CarrierMetaValue = "cache-carrier"
)

// CarrierMetadataQuery is the structured metadata-search body used to find
// the carrier when the fixed-id read misses.
func CarrierMetadataQuery() map[string]any {
	return map[string]any{
		"matchesJsonPath": map[string]any{
			"expression": "$." + CarrierMetaKey,
			"equalTo":    CarrierMetaValue,
		},
	}
}

// IsCarrier reports whether a mapping is the snapshot carrier. Any one marker
// matching excludes the record from every list, count, and match result.
func IsCarrier(m *models.Mapping) bool {
	if m == nil {
		return false
	}
	for _, alias := range models.ExtractIdentifiers(m).Aliases {
		if alias == CarrierID {
			return true
		}
	}
	if m.Name == CarrierName {
		return true
	}
	if m.Request != nil && strings.HasPrefix(m.Request.URL, CarrierURL) {
		return true
	}
	if m.Metadata != nil {
		if v, ok := m.Metadata[CarrierMetaKey].(string); ok && v == CarrierMetaValue {
			return true
		}
	}
	return false
}

// IsCarrierID reports whether an already-normalized identifier addresses the
// carrier.
func IsCarrierID(id string) bool {
	return models.NormalizeID(id) == CarrierID
}
