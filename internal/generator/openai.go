package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/HanTheDev/art-gateway/internal/config"
)

// OpenAI generates images through the OpenAI (or a compatible) images API.
type OpenAI struct {
	client *openai.Client
	name   string
	model  string
	size   string
}

func NewOpenAI(cfg config.GenerationConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return newOpenAIWithConfig("openai", clientConfig, cfg)
}

// NewAzureOpenAI uses cfg.BaseURL as the Azure resource endpoint and
// cfg.Model as the deployment name.
func NewAzureOpenAI(cfg config.GenerationConfig) *OpenAI {
	return newOpenAIWithConfig("azure", openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL), cfg)
}

func newOpenAIWithConfig(name string, clientConfig openai.ClientConfig, cfg config.GenerationConfig) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	size := cfg.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		name:   name,
		model:  model,
		size:   size,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Generate(ctx context.Context, prompt string) (*Image, error) {
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.model,
		N:              1,
		Size:           o.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, o.wrapError(err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &Error{Kind: KindUnknown, Provider: o.name, Err: errors.New("no image in response")}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: o.name, Err: fmt.Errorf("decode image: %w", err)}
	}

	return &Image{Data: data, ContentType: http.DetectContentType(data)}, nil
}

func (o *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			switch code {
			case "insufficient_quota", "billing_hard_limit_reached":
				kind = KindInsufficientCredits
			case "content_policy_violation":
				kind = KindPromptRejected
			}
		}
		return &Error{Kind: kind, Provider: o.name, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: classifyStatus(reqErr.HTTPStatusCode, reqErr.Error()), Provider: o.name, Err: err}
	}

	return Classify(o.name, err)
}
