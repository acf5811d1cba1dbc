package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ImagenClient generates images with Imagen through the Gemini API.
type ImagenClient struct {
	client *genai.Client
	model  string
}

func NewImagenClient(ctx context.Context, apiKey, model string) (*ImagenClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = "imagen-3.0-generate-002"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &ImagenClient{client: client, model: model}, nil
}

func (g *ImagenClient) Name() Name {
	return GeminiImage
}

func (g *ImagenClient) Generate(ctx context.Context, prompt string, params ImageParams) ([]byte, error) {
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      params.AspectRatio,
		PersonGeneration: genai.PersonGenerationAllowAdult,
		OutputMIMEType:   "image/jpeg",
	}
	if level := safetyLevel(params.SafetyLevel); level != "" {
		cfg.SafetyFilterLevel = level
	}

	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, cfg)
	if err != nil {
		return nil, Classify(GeminiImage, err)
	}
	for _, img := range resp.GeneratedImages {
		if img != nil && img.Image != nil && len(img.Image.ImageBytes) > 0 {
			return img.Image.ImageBytes, nil
		}
	}
	return nil, Classify(GeminiImage, errors.New("no image returned, prompt may have been filtered"))
}

func safetyLevel(s string) genai.SafetyFilterLevel {
	switch s {
	case "block_low_and_above":
		return genai.SafetyFilterLevelBlockLowAndAbove
	case "block_medium_and_above":
		return genai.SafetyFilterLevelBlockMediumAndAbove
	case "block_only_high":
		return genai.SafetyFilterLevelBlockOnlyHigh
	case "block_none":
		return genai.SafetyFilterLevelBlockNone
	}
	return ""
}
