package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/HanTheDev/art-gateway/internal/config"
)

const defaultGeminiModel = "imagen-3.0-generate-002"

// Gemini generates images with Imagen through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg config.GenerationConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}

	model := cfg.Model
	if model == "" || model == "dall-e-3" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, prompt string) (*Image, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/jpeg",
	})
	if err != nil {
		if apiErr, ok := asGeminiError(err); ok {
			return nil, geminiError(apiErr, err)
		}
		return nil, Classify("gemini", err)
	}

	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, &Error{Kind: KindUnknown, Provider: "gemini", Err: errors.New("no image in response")}
	}

	generated := resp.GeneratedImages[0]
	if generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		// Imagen drops filtered images and reports why.
		if generated.RAIFilteredReason != "" {
			return nil, &Error{Kind: KindPromptRejected, Provider: "gemini", Err: errors.New(generated.RAIFilteredReason)}
		}
		return nil, &Error{Kind: KindUnknown, Provider: "gemini", Err: errors.New("empty image in response")}
	}

	contentType := generated.Image.MIMEType
	if contentType == "" {
		contentType = http.DetectContentType(generated.Image.ImageBytes)
	}
	return &Image{Data: generated.Image.ImageBytes, ContentType: contentType}, nil
}

// geminiError maps an API error to an *Error. RESOURCE_EXHAUSTED is the
// Gemini rate limit, even though its message mentions quota.
func geminiError(apiErr genai.APIError, err error) *Error {
	kind := classifyStatus(apiErr.Code, apiErr.Status+" "+apiErr.Message)
	if apiErr.Status == "RESOURCE_EXHAUSTED" {
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Provider: "gemini", RetryAfter: retryDelay(apiErr.Details), Err: err}
}

// retryDelay reads the google.rpc.RetryInfo detail, e.g. {"retryDelay": "37s"}.
func retryDelay(details []map[string]any) time.Duration {
	for _, detail := range details {
		if typ, _ := detail["@type"].(string); !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := detail["retryDelay"].(string)
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// asGeminiError finds a genai.APIError in err, returned by value or pointer.
func asGeminiError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}
