// Package provider wraps the AI text and image backends behind small
// interfaces and maps their wire errors onto apperr kinds.
package provider

import (
	"autopublisher/internal/apperr"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/openai/openai-go"
	"google.golang.org/genai"
)

type Name string

const (
	Auto        Name = "auto"
	OpenAI      Name = "openai"
	DeepSeek    Name = "deepseek"
	OpenAIImage Name = "openai-image"
	GeminiImage Name = "gemini-image"
	Placeholder Name = "placeholder"
)

// CredentialKey is the credential an image provider authenticates with.
func (n Name) CredentialKey() Name {
	switch n {
	case OpenAIImage:
		return OpenAI
	case GeminiImage:
		return "gemini"
	}
	return n
}

type TextRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type TextProvider interface {
	Name() Name
	Generate(ctx context.Context, req TextRequest) (string, error)
}

type ImageParams struct {
	Size        string
	Quality     string
	Style       string
	AspectRatio string
	SafetyLevel string
}

type ImageProvider interface {
	Name() Name
	Generate(ctx context.Context, prompt string, params ImageParams) ([]byte, error)
}

var ErrNoProviderAvailable = errors.New("no provider available")

// Classify maps a provider call error onto the error taxonomy: throttling,
// server errors, timeouts and network failures are transient, request and
// auth rejections are permanent.
func Classify(name Name, err error) error {
	if err == nil {
		return nil
	}
	op := string(name)

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &apperr.Error{Kind: apperr.ProviderTransient, Op: op, Err: err, Timeout: true}
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.Cancelled, op, err)
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return byStatus(op, oaErr.StatusCode, err)
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return byStatus(op, gErr.Code, err)
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) {
		return byStatus(op, gErrPtr.Code, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &apperr.Error{Kind: apperr.ProviderTransient, Op: op, Err: err, Timeout: netErr.Timeout()}
	}

	return apperr.Wrap(apperr.ProviderTransient, op, err)
}

func byStatus(op string, status int, err error) error {
	switch {
	case status == 429, status >= 500, status == 408:
		return apperr.Wrap(apperr.ProviderTransient, op, err)
	case status >= 400:
		return apperr.Wrap(apperr.ProviderPermanent, op, err)
	}
	return apperr.Wrap(apperr.ProviderTransient, op, err)
}

// ValidateCredential checks the format of a provider secret before it is stored.
func ValidateCredential(name Name, secret string) error {
	secret = strings.TrimSpace(secret)
	switch name {
	case OpenAI:
		if !strings.HasPrefix(secret, "sk-") || len(secret) <= 20 {
			return apperr.New(apperr.InputInvalid, "credential", "openai key must start with sk- and be longer than 20 characters")
		}
	case DeepSeek, "gemini":
		if len(secret) <= 20 {
			return apperr.New(apperr.InputInvalid, "credential", fmt.Sprintf("%s key must be longer than 20 characters", name))
		}
	default:
		return apperr.New(apperr.InputInvalid, "credential", fmt.Sprintf("unknown provider %q", name))
	}
	return nil
}
