package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient talks to any OpenAI-compatible chat completions endpoint.
// DeepSeek is served by the same client with a different base URL.
type ChatClient struct {
	name   Name
	model  string
	client openai.Client
}

func NewChatClient(name Name, apiKey, model, baseURL string) (*ChatClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key missing")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ChatClient{name: name, model: model, client: openai.NewClient(opts...)}, nil
}

func (o *ChatClient) Name() Name {
	return o.name
}

func (o *ChatClient) Generate(ctx context.Context, req TextRequest) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", Classify(o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// DalleClient generates images with the OpenAI images API.
type DalleClient struct {
	model  string
	client openai.Client
}

func NewDalleClient(apiKey, model string) (*DalleClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key missing")
	}
	if model == "" {
		model = string(openai.ImageModelDallE3)
	}
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &DalleClient{model: model, client: client}, nil
}

func (o *DalleClient) Name() Name {
	return OpenAIImage
}

func (o *DalleClient) Generate(ctx context.Context, prompt string, params ImageParams) ([]byte, error) {
	req := openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(o.model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}
	if params.Size != "" {
		req.Size = openai.ImageGenerateParamsSize(params.Size)
	}
	if params.Quality != "" {
		req.Quality = openai.ImageGenerateParamsQuality(params.Quality)
	}
	if params.Style == "vivid" || params.Style == "natural" {
		req.Style = openai.ImageGenerateParamsStyle(params.Style)
	}

	resp, err := o.client.Images.Generate(ctx, req)
	if err != nil {
		return nil, Classify(OpenAIImage, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, Classify(OpenAIImage, errors.New("empty image response"))
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, Classify(OpenAIImage, fmt.Errorf("decoding image payload: %w", err))
	}
	return raw, nil
}
