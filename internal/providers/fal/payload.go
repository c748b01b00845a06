package fal

import (
	"strings"

	"studio/internal/domain/generation"
	"studio/internal/domain/model"
)

// Payload is the fully built request for one queue submission.
type Payload struct {
	Endpoint string
	Body     map[string]any
}

// BuildPayload translates the generic request fields into the exact body the
// queue API expects. For a fixed set of inputs the output is deterministic;
// there is no hidden randomness.
//
// Endpoint choice: a template reference or a plain main image switches the
// call from the base generate endpoint to the edit endpoint. When both are
// present the template becomes the base canvas and the subject photo rides
// along as a secondary reference.
func BuildPayload(spec model.Spec, req generation.Request) Payload {
	body := map[string]any{
		"prompt":       buildPrompt(req),
		"aspect_ratio": string(generation.NormalizeAspect(req.AspectRatio)),
	}

	endpoint := spec.Endpoint
	var images []string
	switch {
	case req.TemplateURL != "":
		images = append(images, req.TemplateURL)
		if req.ImageURL != "" {
			images = append(images, req.ImageURL)
		}
	case req.ImageURL != "":
		images = append(images, req.ImageURL)
	}
	if len(images) > 0 && spec.EditEndpoint != "" {
		endpoint = spec.EditEndpoint
	}
	if len(images) > 0 {
		body["image_urls"] = images
	}
	if req.InputVideo != "" {
		body["video_url"] = req.InputVideo
	}
	if req.Strength > 0 {
		body["strength"] = req.Strength
	}

	return Payload{Endpoint: endpoint, Body: body}
}

func buildPrompt(req generation.Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	if req.SubjectLock {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("Keep the subject's face, identity and pose exactly as in the reference photo.")
	}
	if outfit := strings.TrimSpace(req.Outfit); outfit != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("Outfit: ")
		b.WriteString(outfit)
		b.WriteString(".")
	}
	if dialogue := strings.TrimSpace(req.Dialogue); dialogue != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("Dialogue: ")
		b.WriteString(dialogue)
	}
	return b.String()
}
