// Package imagegen produces the illustrations of a post: one prompt per
// position, provider fallback per prompt, normalized JPEG output.
package imagegen

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/repository"
	"autopublisher/internal/storage"
	"autopublisher/internal/text"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxAltLength = 125

// Throttle reports whether a provider call may start now, or how long to wait.
type Throttle interface {
	Reserve(name provider.Name) (time.Duration, bool)
}

type Config struct {
	MaxPx   int
	Quality int
	Timeout time.Duration
}

type Generator struct {
	store    storage.ObjectStore
	images   repository.ImageRepository
	throttle Throttle
	cfg      Config
	log      *zap.Logger
}

func New(store storage.ObjectStore, images repository.ImageRepository, throttle Throttle, cfg Config, logger *zap.Logger) *Generator {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 85
	}
	return &Generator{store: store, images: images, throttle: throttle, cfg: cfg, log: logger}
}

type Request struct {
	Post      *models.Post
	Keyword   *models.Keyword
	Policy    Policy
	Providers []provider.ImageProvider
}

type Result struct {
	Images   []models.Image
	Failures map[int]error
}

// Err summarizes failed positions as a PartialImageFailure, or nil.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return apperr.Wrap(apperr.PartialImageFailure, "imagegen",
		fmt.Errorf("%d of %d images failed", len(r.Failures), len(r.Failures)+len(r.Images)))
}

// Generate creates and stores every image the policy asks for. Individual
// failures are collected in the result; only cancellation aborts the run.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Failures: map[int]error{}}
	prompts := Prompts(req.Keyword.Phrase, req.Post.Title, req.Policy)

	for _, pr := range prompts {
		if err := ctx.Err(); err != nil {
			return res, apperr.Wrap(apperr.Cancelled, "imagegen", err)
		}

		img, err := g.generateOne(ctx, req, pr)
		if err != nil {
			if apperr.Is(err, apperr.Cancelled) {
				return res, err
			}
			res.Failures[pr.Position] = err
			g.log.Warn("image generation failed",
				zap.String("post_id", req.Post.PostID),
				zap.Int("position", pr.Position),
				zap.Error(err),
			)
			continue
		}
		res.Images = append(res.Images, *img)
	}
	return res, nil
}

func (g *Generator) generateOne(ctx context.Context, req Request, pr Prompt) (*models.Image, error) {
	var lastErr error
	for _, p := range req.Providers {
		if g.throttle != nil {
			if wait, ok := g.throttle.Reserve(p.Name()); !ok {
				lastErr = apperr.New(apperr.ProviderTransient, string(p.Name()), fmt.Sprintf("throttled for %s", wait))
				continue
			}
		}

		out, err := g.call(ctx, p, pr.Text, req.Policy.Params())
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.Wrap(apperr.Cancelled, "imagegen", ctx.Err())
			}
			lastErr = err
			continue
		}

		img, err := normalize(out, g.cfg.MaxPx, g.cfg.Quality)
		if err != nil {
			lastErr = apperr.Wrap(apperr.ProviderPermanent, string(p.Name()), err)
			continue
		}
		return g.save(ctx, req, pr, p.Name(), img)
	}
	if lastErr == nil {
		lastErr = apperr.Wrap(apperr.ProviderPermanent, "imagegen", provider.ErrNoProviderAvailable)
	}
	return nil, lastErr
}

func (g *Generator) call(ctx context.Context, p provider.ImageProvider, prompt string, params provider.ImageParams) ([]byte, error) {
	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	out, err := p.Generate(callCtx, prompt, params)
	if err != nil {
		return nil, provider.Classify(p.Name(), err)
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.ProviderPermanent, string(p.Name()), "empty image")
	}
	return out, nil
}

func (g *Generator) save(ctx context.Context, req Request, pr Prompt, name provider.Name, img *processed) (*models.Image, error) {
	path := fmt.Sprintf("generated/%s_%d_%s.jpg", req.Post.PostID, pr.Position, uuid.New().String()[:8])
	url, err := g.store.Put(ctx, path, img.data, "image/jpeg")
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "imagegen.put", err)
	}

	record := &models.Image{
		PostID:      req.Post.PostID,
		StoragePath: path,
		ImageURL:    url,
		AltText:     AltText(req.Keyword.Phrase),
		Prompt:      pr.Text,
		Provider:    string(name),
		Position:    pr.Position,
		IsFeatured:  pr.Featured,
		Width:       img.width,
		Height:      img.height,
	}
	if err := g.images.Create(ctx, record); err != nil {
		if delErr := g.store.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return nil, apperr.Wrap(apperr.StorageError, "imagegen.record", err)
	}
	return record, nil
}

// Remove deletes the stored files of images whose records are gone.
// Failures are logged and skipped.
func (g *Generator) Remove(ctx context.Context, images []models.Image) {
	for _, img := range images {
		if err := g.store.Delete(ctx, img.StoragePath); err != nil {
			g.log.Warn("could not delete image file",
				zap.String("post_id", img.PostID),
				zap.String("path", img.StoragePath),
				zap.Error(err),
			)
		}
	}
}

func AltText(phrase string) string {
	return text.Truncate(fmt.Sprintf("Illustration of %s — AI-generated", phrase), maxAltLength)
}
