package cache

import (
	"testing"

	"mockpit/internal/models"
)

// TestIsCarrierByID tests recognition through the fixed identifier
func TestIsCarrierByID(t *testing.T) {
	if !IsCarrier(&models.Mapping{ID: CarrierID}) {
		t.Error("Expected carrier recognition by id")
	}
	if !IsCarrier(&models.Mapping{UUID: "00000000-0000-0000-0000-6D6F636B7069"}) {
		t.Error("Expected carrier recognition regardless of id casing")
	}
	if !IsCarrier(&models.Mapping{Metadata: map[string]any{"id": CarrierID}}) {
		t.Error("Expected carrier recognition through metadata id")
	}
}

// TestIsCarrierByName tests recognition through the reserved name
func TestIsCarrierByName(t *testing.T) {
	if !IsCarrier(&models.Mapping{ID: "anything", Name: CarrierName}) {
		t.Error("Expected carrier recognition by name")
	}
}

// TestIsCarrierByURL tests recognition through the synthetic request URL
func TestIsCarrierByURL(t *testing.T) {
	m := &models.Mapping{
		ID:      "server-assigned",
		Request: &models.RequestSpec{Method: "GET", URL: CarrierURL},
	}
	if !IsCarrier(m) {
		t.Error("Expected carrier recognition by request URL")
	}
	m.Request.URL = CarrierURL + "?v=2"
	if !IsCarrier(m) {
		t.Error("Expected carrier recognition by URL prefix")
	}
}

// TestIsCarrierByMetadata tests recognition through the metadata tag
func TestIsCarrierByMetadata(t *testing.T) {
	m := &models.Mapping{
		ID:       "server-assigned",
		Metadata: map[string]any{CarrierMetaKey: CarrierMetaValue},
	}
	if !IsCarrier(m) {
		t.Error("Expected carrier recognition by metadata tag")
	}
	m.Metadata[CarrierMetaKey] = "something-else"
	if IsCarrier(m) {
		t.Error("Expected no recognition for a different tag value")
	}
}

// TestIsCarrierNegative tests ordinary mappings and nil
func TestIsCarrierNegative(t *testing.T) {
	if IsCarrier(nil) {
		t.Error("nil should never be a carrier")
	}
	m := &models.Mapping{
		ID:      "user-mapping",
		Name:    "ordinary",
		Request: &models.RequestSpec{Method: "GET", URL: "/api/users"},
	}
	if IsCarrier(m) {
		t.Error("Ordinary mapping flagged as carrier")
	}
}

// TestIsCarrierID tests the normalized-identifier check
func TestIsCarrierID(t *testing.T) {
	if !IsCarrierID(CarrierID) {
		t.Error("Expected fixed id to match")
	}
	if !IsCarrierID("  00000000-0000-0000-0000-6D6F636B7069  ") {
		t.Error("Expected match after normalization")
	}
	if IsCarrierID("11111111-0000-0000-0000-000000000000") {
		t.Error("Unexpected match for a foreign id")
	}
}

// TestCarrierMetadataQuery tests the structured discovery query
func TestCarrierMetadataQuery(t *testing.T) {
	query := CarrierMetadataQuery()
	inner, ok := query["matchesJsonPath"].(map[string]any)
	if !ok {
		t.Fatalf("Expected matchesJsonPath object, got %v", query)
	}
	if inner["expression"] != "$."+CarrierMetaKey {
		t.Errorf("Unexpected expression: %v", inner["expression"])
	}
	if inner["equalTo"] != CarrierMetaValue {
		t.Errorf("Unexpected equalTo: %v", inner["equalTo"])
	}
}
