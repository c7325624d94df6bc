/*
presets.go - Predefined meter definitions for demos and quick setup

PURPOSE:
  Provides ready-made meter configurations that demonstrate both
  regeneration directions. Each preset is stored as the same JSON a client
  would POST, and goes through factory.NumberFactory like any other input.

AVAILABLE PRESETS:
  api-quota:     100 requests, refills 1 per second
  stamina:       10 points, refills 1 every 10 seconds
  heat:          0..50, cools down by 5 every 2 seconds
  daily-credits: 24 credits, refills 1 per hour

USAGE VIA API:
  GET  /api/presets
  POST /api/presets/load
  {"preset_id": "api-quota", "name": "partner-x"}

ADDING NEW PRESETS:
  Append to the presets slice. The JSON must pass factory validation; the
  presets test loads every entry.

SEE ALSO:
  - handlers.go: CreateMeter (the generic path)
  - factory/number.go: NumberJSON schema
*/
package api

import (
	"encoding/json"
	"net/http"
)

// PresetDTO describes a predefined meter.
type PresetDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config"`
}

// LoadPresetRequest names the preset and, optionally, the meter.
type LoadPresetRequest struct {
	PresetID string `json:"preset_id"`
	Name     string `json:"name,omitempty"`
}

// =============================================================================
// PRESET DEFINITIONS
// =============================================================================

var presets = []PresetDTO{
	{
		ID:          "api-quota",
		Name:        "API Quota",
		Description: "100 requests, one request regenerates every second",
		Config:      json.RawMessage(`{"init":100,"max":100,"min":0,"interval":1000,"step":1,"type":"inc"}`),
	},
	{
		ID:          "stamina",
		Name:        "Stamina",
		Description: "10 points, one point regenerates every 10 seconds",
		Config:      json.RawMessage(`{"init":10,"max":10,"min":0,"interval":10000,"step":1,"type":"inc"}`),
	},
	{
		ID:          "heat",
		Name:        "Heat",
		Description: "Rises on use, cools down by 5 every 2 seconds",
		Config:      json.RawMessage(`{"init":0,"max":50,"min":0,"interval":2000,"step":5,"type":"dec"}`),
	},
	{
		ID:          "daily-credits",
		Name:        "Daily Credits",
		Description: "24 credits, one credit regenerates every hour",
		Config:      json.RawMessage(`{"init":24,"max":24,"min":0,"interval":3600000,"step":1,"type":"increasing"}`),
	},
}

// ListPresets returns available presets.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presets)
}

// LoadPreset creates a meter from a preset.
func (h *Handler) LoadPreset(w http.ResponseWriter, r *http.Request) {
	var req LoadPresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	preset, ok := findPreset(req.PresetID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown preset", nil)
		return
	}

	cfg, err := h.NumberFactory.ParseConfig(preset.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Preset is invalid", err)
		return
	}

	name := req.Name
	if name == "" {
		name = preset.ID
	}

	st, err := h.Meters.Create(r.Context(), name, cfg)
	if err != nil {
		h.writeServiceError(w, "Failed to load preset", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMeterDTO(st))
}

func findPreset(id string) (PresetDTO, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return PresetDTO{}, false
}
