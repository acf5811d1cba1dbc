package provider

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/repository"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Credentials is an immutable snapshot of the secrets a job may use, keyed
// by credential name (openai, deepseek, gemini).
type Credentials map[Name]string

func (c Credentials) Has(name Name) bool {
	return c[name.CredentialKey()] != ""
}

func (c Credentials) For(name Name) string {
	return c[name.CredentialKey()]
}

type TextFactory func(apiKey string) (TextProvider, error)

type ImageFactory func(apiKey string) (ImageProvider, error)

type Registry struct {
	mu          sync.RWMutex
	textOrder   []Name
	text        map[Name]TextFactory
	imageOrder  []Name
	image       map[Name]ImageFactory
	placeholder ImageProvider
	defaults    Credentials
	creds       repository.CredentialRepository
	log         *zap.Logger
}

func NewRegistry(creds repository.CredentialRepository, defaults Credentials, logger *zap.Logger) *Registry {
	if defaults == nil {
		defaults = Credentials{}
	}
	return &Registry{
		text:     map[Name]TextFactory{},
		image:    map[Name]ImageFactory{},
		defaults: defaults,
		creds:    creds,
		log:      logger,
	}
}

// RegisterText adds a text provider. Registration order is the auto preference order.
func (r *Registry) RegisterText(name Name, f TextFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.text[name]; !ok {
		r.textOrder = append(r.textOrder, name)
	}
	r.text[name] = f
}

func (r *Registry) RegisterImage(name Name, f ImageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.image[name]; !ok {
		r.imageOrder = append(r.imageOrder, name)
	}
	r.image[name] = f
}

// SetPlaceholder installs the credential-free last-resort image provider;
// nil disables it.
func (r *Registry) SetPlaceholder(p ImageProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placeholder = p
}

// Snapshot returns the process defaults overlaid with the user's stored secrets.
func (r *Registry) Snapshot(ctx context.Context, userID string) (Credentials, error) {
	snap := Credentials{}
	for k, v := range r.defaults {
		if v != "" {
			snap[k] = v
		}
	}
	if r.creds == nil {
		return snap, nil
	}

	stored, err := r.creds.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "credentials.snapshot", err)
	}
	for _, c := range stored {
		if c.Secret != "" {
			snap[Name(c.Provider)] = c.Secret
		}
	}
	return snap, nil
}

// TextProviders returns the ordered text providers to try: the requested
// one first when it has a credential, then the remaining configured ones.
func (r *Registry) TextProviders(pref Name, creds Credentials) ([]TextProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TextProvider
	for _, name := range orderWithPreference(r.textOrder, pref) {
		if !creds.Has(name) {
			continue
		}
		p, err := r.text[name](creds.For(name))
		if err != nil {
			r.log.Warn("text provider unavailable", zap.String("provider", string(name)), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, apperr.Wrap(apperr.ProviderPermanent, "registry.text", fmt.Errorf("text: %w", ErrNoProviderAvailable))
	}
	return out, nil
}

// ImageProviders returns the ordered image providers: preferred, the other
// credentialed ones, then the placeholder when enabled.
func (r *Registry) ImageProviders(pref Name, creds Credentials) ([]ImageProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ImageProvider
	for _, name := range orderWithPreference(r.imageOrder, pref) {
		if !creds.Has(name) {
			continue
		}
		p, err := r.image[name](creds.For(name))
		if err != nil {
			r.log.Warn("image provider unavailable", zap.String("provider", string(name)), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	if r.placeholder != nil {
		out = append(out, r.placeholder)
	}
	if len(out) == 0 {
		return nil, apperr.Wrap(apperr.ProviderPermanent, "registry.image", fmt.Errorf("image: %w", ErrNoProviderAvailable))
	}
	return out, nil
}

func orderWithPreference(order []Name, pref Name) []Name {
	out := make([]Name, 0, len(order))
	for _, n := range order {
		if n == pref {
			out = append(out, n)
		}
	}
	for _, n := range order {
		if n != pref {
			out = append(out, n)
		}
	}
	return out
}
