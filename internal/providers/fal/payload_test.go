package fal

import (
	"reflect"
	"testing"

	"studio/internal/domain/generation"
	"studio/internal/domain/model"
)

var imageSpec = model.Spec{
	ID:           "nano-banana",
	Endpoint:     "nano-banana",
	EditEndpoint: "nano-banana/edit",
	ResultPaths:  []string{"images.0.url"},
}

func TestBuildPayloadDeterministic(t *testing.T) {
	req := generation.Request{
		Prompt:      "a fox in the snow",
		AspectRatio: "portrait",
		ImageURL:    "https://img.example/ref.jpg",
		SubjectLock: true,
		Outfit:      "red coat",
	}
	first := BuildPayload(imageSpec, req)
	second := BuildPayload(imageSpec, req)
	if first.Endpoint != second.Endpoint || !reflect.DeepEqual(first.Body, second.Body) {
		t.Fatalf("identical inputs produced different payloads:\n%v\n%v", first, second)
	}
}

func TestBuildPayloadEndpointSelection(t *testing.T) {
	plain := BuildPayload(imageSpec, generation.Request{Prompt: "p"})
	if plain.Endpoint != "nano-banana" {
		t.Fatalf("no reference image should use base endpoint, got %q", plain.Endpoint)
	}
	if _, ok := plain.Body["image_urls"]; ok {
		t.Fatal("plain request must not carry image_urls")
	}

	edit := BuildPayload(imageSpec, generation.Request{Prompt: "p", ImageURL: "https://img.example/a.jpg"})
	if edit.Endpoint != "nano-banana/edit" {
		t.Fatalf("reference image should switch to edit endpoint, got %q", edit.Endpoint)
	}
}

func TestBuildPayloadTemplateIsBaseCanvas(t *testing.T) {
	p := BuildPayload(imageSpec, generation.Request{
		Prompt:      "p",
		TemplateURL: "https://img.example/template.jpg",
		ImageURL:    "https://img.example/subject.jpg",
	})
	urls, ok := p.Body["image_urls"].([]string)
	if !ok || len(urls) != 2 {
		t.Fatalf("expected two image urls, got %v", p.Body["image_urls"])
	}
	if urls[0] != "https://img.example/template.jpg" {
		t.Fatalf("template must come first, got %q", urls[0])
	}
	if urls[1] != "https://img.example/subject.jpg" {
		t.Fatalf("subject must come second, got %q", urls[1])
	}
}

func TestBuildPayloadAspectIsNormalized(t *testing.T) {
	p := BuildPayload(imageSpec, generation.Request{Prompt: "p", AspectRatio: "landscape"})
	if p.Body["aspect_ratio"] != "16:9" {
		t.Fatalf("aspect_ratio = %v, want 16:9", p.Body["aspect_ratio"])
	}
	fallback := BuildPayload(imageSpec, generation.Request{Prompt: "p", AspectRatio: "nonsense"})
	if fallback.Body["aspect_ratio"] != "9:16" {
		t.Fatalf("unknown aspect should fall back to 9:16, got %v", fallback.Body["aspect_ratio"])
	}
}

func TestBuildPrompt(t *testing.T) {
	req := generation.Request{
		Prompt:      "a fox",
		SubjectLock: true,
		Outfit:      "red coat",
		Dialogue:    "hello there",
	}
	got := buildPrompt(req)
	want := "a fox Keep the subject's face, identity and pose exactly as in the reference photo. Outfit: red coat. Dialogue: hello there"
	if got != want {
		t.Fatalf("buildPrompt:\n got %q\nwant %q", got, want)
	}

	if got := buildPrompt(generation.Request{Prompt: " plain "}); got != "plain" {
		t.Fatalf("plain prompt = %q", got)
	}
}
