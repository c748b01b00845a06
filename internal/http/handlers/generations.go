package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain/generation"
)

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	AspectRatio string  `json:"aspect_ratio"`
	Dialogue    string  `json:"dialogue"`
	ImageURL    string  `json:"image_url"`
	ImageB64    string  `json:"image_b64"`
	ImageMIME   string  `json:"image_mime"`
	TemplateID  string  `json:"template_id"`
	VideoURL    string  `json:"video_url"`
	Strength    float64 `json:"strength"`

	SubjectLock   bool   `json:"subject_lock"`
	Outfit        string `json:"outfit"`
	SemanticRemix bool   `json:"semantic_remix"`
}

func (g *generateRequest) toDomain(userID string, kind generation.Kind) (generation.Request, error) {
	req := generation.Request{
		UserID:        userID,
		Kind:          kind,
		ModelID:       g.Model,
		Prompt:        strings.TrimSpace(g.Prompt),
		Dialogue:      g.Dialogue,
		AspectRatio:   g.AspectRatio,
		ImageURL:      g.ImageURL,
		ImageMIME:     g.ImageMIME,
		TemplateID:    g.TemplateID,
		InputVideo:    g.VideoURL,
		Strength:      g.Strength,
		SubjectLock:   g.SubjectLock,
		Outfit:        g.Outfit,
		SemanticRemix: g.SemanticRemix,
	}
	if g.ImageB64 != "" {
		data, err := base64.StdEncoding.DecodeString(g.ImageB64)
		if err != nil {
			return req, err
		}
		req.ImageData = data
	}
	return req, nil
}

func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, generation.KindImage)
}

func (a *App) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, generation.KindVideo)
}

func (a *App) generate(w http.ResponseWriter, r *http.Request, kind generation.Kind) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" && body.TemplateID == "" && body.ImageURL == "" && body.ImageB64 == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt or reference input required")
		return
	}
	req, err := body.toDomain(userID, kind)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image_b64 is not valid base64")
		return
	}

	outcome, err := a.Studio.Generate(r.Context(), req, a.clientCountry(r))
	if err != nil {
		a.fail(w, err)
		return
	}

	if kind == generation.KindVideo {
		a.json(w, http.StatusOK, map[string]any{
			"generation_id":     outcome.GenerationID,
			"video_url":         outcome.MediaURL,
			"model":             outcome.ModelID,
			"remaining_credits": outcome.RemainingCredits,
		})
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"generation_id":     outcome.GenerationID,
		"images":            []string{outcome.MediaURL},
		"image_url":         outcome.MediaURL,
		"model":             outcome.ModelID,
		"remaining_credits": outcome.RemainingCredits,
	})
}

// LabVideo is the experimentation surface. It always answers 200; failures
// are reported in-band with success=false so client tooling can log the full
// exchange without branching on transport status.
func (a *App) LabVideo(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.json(w, http.StatusOK, map[string]any{"success": false, "error": "invalid payload"})
		return
	}
	req, err := body.toDomain(userID, generation.KindVideo)
	if err != nil {
		a.json(w, http.StatusOK, map[string]any{"success": false, "error": "image_b64 is not valid base64"})
		return
	}

	echo := body
	if echo.ImageB64 != "" {
		echo.ImageB64 = "[redacted]"
	}

	outcome, err := a.Studio.Generate(r.Context(), req, a.clientCountry(r))
	if err != nil {
		_, code := classify(err)
		a.json(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
			"code":    code,
			"request": echo,
		})
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":           true,
		"video_url":         outcome.MediaURL,
		"model":             outcome.ModelID,
		"remaining_credits": outcome.RemainingCredits,
		"request":           echo,
		"provider_payload":  redactBase64(outcome.ProviderPayload),
		"provider_response": redactBase64(outcome.ProviderRaw),
	})
}

// redactedKeys are JSON fields whose values are base64 media blobs; the lab
// echo replaces them so log captures stay readable.
var redactedKeys = map[string]bool{
	"bytesBase64Encoded": true,
	"image_b64":          true,
}

func redactBase64(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		escaped, _ := json.Marshal(string(raw))
		return escaped
	}
	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return nil
	}
	return out
}

func redactValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, val := range node {
			if redactedKeys[k] {
				node[k] = "[redacted]"
				continue
			}
			node[k] = redactValue(val)
		}
		return node
	case []any:
		for i := range node {
			node[i] = redactValue(node[i])
		}
		return node
	}
	return v
}

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	view, err := a.Studio.Status(r.Context(), id, userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	if err := a.Studio.Cancel(r.Context(), id, userID); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"id": id, "phase": string(generation.PhaseCanceled)})
}
