package domain

import (
	"fmt"
	"strings"
)

// ModelOption describes one selectable Whisper checkpoint and its download sizes.
type ModelOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	QuantizedMB int    `json:"quantizedMB"`
	FullMB      int    `json:"fullMB,omitempty"`
	// Cached is set by the app shell when the model file is already in the model directory.
	Cached bool `json:"cached"`
}

// HasFullPrecision reports whether a non-quantized variant is published.
func (m ModelOption) HasFullPrecision() bool {
	return m.FullMB > 0
}

// IsDistil reports whether the checkpoint is an English-only distil-whisper model.
func (m ModelOption) IsDistil() bool {
	return strings.HasPrefix(m.ID, "distil-whisper/")
}

var modelCatalog = []ModelOption{
	{ID: "Xenova/whisper-tiny", QuantizedMB: 41, FullMB: 152},
	{ID: "Xenova/whisper-base", QuantizedMB: 77, FullMB: 291},
	{ID: "Xenova/whisper-small", QuantizedMB: 249},
	{ID: "Xenova/whisper-medium", QuantizedMB: 776},
	{ID: "distil-whisper/distil-medium.en", QuantizedMB: 402},
	{ID: "distil-whisper/distil-large-v2", QuantizedMB: 767},
}

// DefaultModel is the checkpoint selected for a fresh session.
const DefaultModel = "Xenova/whisper-tiny"

// AvailableModels filters the catalog the way the settings form does: only models with a
// full-precision build when not quantized, and no distil models when multilingual.
func AvailableModels(quantized, multilingual bool) []ModelOption {
	out := make([]ModelOption, 0, len(modelCatalog))
	for _, m := range modelCatalog {
		if !quantized && !m.HasFullPrecision() {
			continue
		}
		if multilingual && m.IsDistil() {
			continue
		}

		size := m.QuantizedMB
		if !quantized {
			size = m.FullMB
		}
		suffix := ""
		if !multilingual && !m.IsDistil() {
			suffix = ".en"
		}
		m.Label = fmt.Sprintf("%s%s (%dMB)", m.ID, suffix, size)
		out = append(out, m)
	}
	return out
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (ModelOption, bool) {
	for _, m := range modelCatalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelOption{}, false
}
