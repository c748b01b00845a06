// Package model resolves user-supplied model identifiers onto a closed set
// of provider variants. Each variant carries its own endpoint, polling
// cadence, ceiling, result lookup order and credit cost, so nothing past the
// boundary ever branches on the raw model string.
package model

import (
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/domain/generation"
)

// Provider tags the protocol family a model speaks.
type Provider string

const (
	// ProviderFalQueue is the submit-then-poll queue protocol.
	ProviderFalQueue Provider = "fal_queue"
	// ProviderVertexLRO is the operation-handle protocol.
	ProviderVertexLRO Provider = "vertex_lro"
)

// Spec is the resolved configuration of one supported model.
type Spec struct {
	ID           string
	Provider     Provider
	Kind         generation.Kind
	Endpoint     string
	EditEndpoint string
	PollInterval time.Duration
	PollTimeout  time.Duration
	// ResultPaths is the ordered list of dotted JSON paths probed for the
	// output media URL; the first non-empty match wins.
	ResultPaths []string
	Cost        int
}

const (
	DefaultImageModel = "nano-banana"
	DefaultVideoModel = "veo-3.0-generate"
)

var registry = map[string]Spec{
	"nano-banana": {
		ID:           "nano-banana",
		Provider:     ProviderFalQueue,
		Kind:         generation.KindImage,
		Endpoint:     "nano-banana",
		EditEndpoint: "nano-banana/edit",
		PollInterval: time.Second,
		PollTimeout:  290 * time.Second,
		ResultPaths:  []string{"images.0.url"},
		Cost:         3,
	},
	"grok-imagine-video": {
		ID:           "grok-imagine-video",
		Provider:     ProviderFalQueue,
		Kind:         generation.KindVideo,
		Endpoint:     "grok-imagine-video",
		PollInterval: 2 * time.Second,
		PollTimeout:  600 * time.Second,
		ResultPaths:  []string{"video.url", "video_url.url", "images.0.url"},
		Cost:         10,
	},
	"veo-3.0-generate": {
		ID:           "veo-3.0-generate",
		Provider:     ProviderVertexLRO,
		Kind:         generation.KindVideo,
		Endpoint:     "veo-3.0-generate-preview",
		PollInterval: 5 * time.Second,
		PollTimeout:  600 * time.Second,
		Cost:         10,
	},
	"veo-2.0-generate": {
		ID:           "veo-2.0-generate",
		Provider:     ProviderVertexLRO,
		Kind:         generation.KindVideo,
		Endpoint:     "veo-2.0-generate-001",
		PollInterval: 5 * time.Second,
		PollTimeout:  600 * time.Second,
		Cost:         8,
	},
}

// Resolve maps a model identifier onto its spec. Empty identifiers fall back
// to the default model of the requested kind; unknown identifiers are an
// error rather than a substring guess.
func Resolve(modelID string, kind generation.Kind) (Spec, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		switch kind {
		case generation.KindVideo:
			modelID = DefaultVideoModel
		default:
			modelID = DefaultImageModel
		}
	}
	spec, ok := registry[modelID]
	if !ok || spec.Kind != kind {
		return Spec{}, domain.ErrUnsupportedModel
	}
	return spec, nil
}

// IDs returns the registered model identifiers for a kind, for diagnostics.
func IDs(kind generation.Kind) []string {
	var out []string
	for id, spec := range registry {
		if spec.Kind == kind {
			out = append(out, id)
		}
	}
	return out
}
