package provider

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/repository/memory"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type stubText struct{ name Name }

func (s stubText) Name() Name { return s.name }
func (s stubText) Generate(context.Context, TextRequest) (string, error) {
	return "", nil
}

type stubImage struct{ name Name }

func (s stubImage) Name() Name { return s.name }
func (s stubImage) Generate(context.Context, string, ImageParams) ([]byte, error) {
	return nil, nil
}

func newTestRegistry(t *testing.T, defaults Credentials) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	r := NewRegistry(store.Repos().Credential, defaults, zap.NewNop())
	for _, n := range []Name{OpenAI, DeepSeek} {
		n := n
		r.RegisterText(n, func(string) (TextProvider, error) { return stubText{name: n}, nil })
	}
	for _, n := range []Name{OpenAIImage, GeminiImage} {
		n := n
		r.RegisterImage(n, func(string) (ImageProvider, error) { return stubImage{name: n}, nil })
	}
	return r, store
}

func textNames(ps []TextProvider) []Name {
	var out []Name
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}

func imageNames(ps []ImageProvider) []Name {
	var out []Name
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}

func TestRegistry_TextProviders(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	tests := []struct {
		name    string
		pref    Name
		creds   Credentials
		want    []Name
		wantErr bool
	}{
		{"auto uses registration order", Auto, Credentials{OpenAI: "k1", DeepSeek: "k2"}, []Name{OpenAI, DeepSeek}, false},
		{"preferred goes first", DeepSeek, Credentials{OpenAI: "k1", DeepSeek: "k2"}, []Name{DeepSeek, OpenAI}, false},
		{"preferred without key falls back", DeepSeek, Credentials{OpenAI: "k1"}, []Name{OpenAI}, false},
		{"no keys", Auto, Credentials{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.TextProviders(tt.pref, tt.creds)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.ProviderPermanent, apperr.KindOf(err))
				assert.ErrorIs(t, err, ErrNoProviderAvailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, textNames(got))
		})
	}
}

func TestRegistry_ImageProvidersPlaceholderLast(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	_, err := r.ImageProviders(Auto, Credentials{})
	assert.Error(t, err)

	r.SetPlaceholder(NewPlaceholderImages())
	got, err := r.ImageProviders(GeminiImage, Credentials{OpenAI: "k", "gemini": "g"})
	require.NoError(t, err)
	assert.Equal(t, []Name{GeminiImage, OpenAIImage, Placeholder}, imageNames(got))

	got, err = r.ImageProviders(Auto, Credentials{})
	require.NoError(t, err)
	assert.Equal(t, []Name{Placeholder}, imageNames(got))
}

func TestRegistry_SnapshotOverlaysUserSecrets(t *testing.T) {
	r, store := newTestRegistry(t, Credentials{OpenAI: "default-openai", DeepSeek: ""})
	ctx := context.Background()

	require.NoError(t, store.Repos().Credential.Upsert(ctx, &models.ProviderCredential{
		UserID: "u1", Provider: "deepseek", Secret: "user-deepseek",
	}))

	snap, err := r.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Credentials{OpenAI: "default-openai", DeepSeek: "user-deepseek"}, snap)

	snap, err = r.Snapshot(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, Credentials{OpenAI: "default-openai"}, snap)
}

func openaiError(status int) error {
	return &openai.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    apperr.Kind
		wantTimeout bool
	}{
		{"rate limited", openaiError(429), apperr.ProviderTransient, false},
		{"server error", openaiError(503), apperr.ProviderTransient, false},
		{"bad request", openaiError(400), apperr.ProviderPermanent, false},
		{"unauthorized", fmt.Errorf("call: %w", openaiError(401)), apperr.ProviderPermanent, false},
		{"gemini quota", genai.APIError{Code: 429, Message: "quota"}, apperr.ProviderTransient, false},
		{"gemini invalid", genai.APIError{Code: 400, Message: "bad prompt"}, apperr.ProviderPermanent, false},
		{"deadline", context.DeadlineExceeded, apperr.ProviderTransient, true},
		{"cancelled", context.Canceled, apperr.Cancelled, false},
		{"unknown", errors.New("connection reset"), apperr.ProviderTransient, false},
		{"already classified", apperr.New(apperr.ProviderPermanent, "x", "empty"), apperr.ProviderPermanent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(OpenAI, tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, tt.wantTimeout, apperr.IsTimeout(err))
		})
	}

	assert.NoError(t, Classify(OpenAI, nil))
}

func TestValidateCredential(t *testing.T) {
	assert.NoError(t, ValidateCredential(OpenAI, "sk-abcdefghijklmnopqrstuvwxyz"))
	assert.Error(t, ValidateCredential(OpenAI, "abcdefghijklmnopqrstuvwxyz"))
	assert.Error(t, ValidateCredential(OpenAI, "sk-short"))
	assert.NoError(t, ValidateCredential(DeepSeek, "0123456789abcdefghijkl"))
	assert.Error(t, ValidateCredential("gemini", "short"))

	err := ValidateCredential("mystery", "0123456789abcdefghijkl")
	assert.Equal(t, apperr.InputInvalid, apperr.KindOf(err))
}

func TestPlaceholderImages_Deterministic(t *testing.T) {
	p := NewPlaceholderImages()
	ctx := context.Background()

	a, err := p.Generate(ctx, "home espresso", ImageParams{})
	require.NoError(t, err)
	b, err := p.Generate(ctx, "home espresso", ImageParams{})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	img, err := png.Decode(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, placeholderWidth, img.Bounds().Dx())
	assert.Equal(t, placeholderHeight, img.Bounds().Dy())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Generate(cancelled, "home espresso", ImageParams{})
	assert.Equal(t, apperr.Cancelled, apperr.KindOf(err))
}
