package service

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"autopublisher/internal/storage"
	"context"
	"fmt"

	"go.uber.org/zap"
)

type PostService interface {
	GetPost(ctx context.Context, userID, postID string) (*models.Post, error)
	DeletePost(ctx context.Context, userID, postID string) error
}

type postService struct {
	db      repository.Store
	objects storage.ObjectStore
	log     *zap.Logger
}

func NewPostService(db repository.Store, objects storage.ObjectStore, logger *zap.Logger) PostService {
	return &postService{db: db, objects: objects, log: logger}
}

func (p *postService) GetPost(ctx context.Context, userID, postID string) (*models.Post, error) {
	const op = "post.get"
	repos := p.db.Repos()
	post, err := repos.Post.GetByID(ctx, postID)
	if err != nil {
		return nil, notFound(op, err)
	}
	if post.AuthorID != userID {
		return nil, apperr.New(apperr.NotFound, op, fmt.Sprintf("post %s not found", postID))
	}

	images, err := repos.Image.GetByPostID(ctx, postID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, op, err)
	}
	post.Images = images
	return post, nil
}

// DeletePost removes the post with its image records, then the stored
// files. A file that cannot be removed is only logged.
func (p *postService) DeletePost(ctx context.Context, userID, postID string) error {
	const op = "post.delete"
	post, err := p.GetPost(ctx, userID, postID)
	if err != nil {
		return err
	}
	if post.Status == models.PostGenerating {
		return apperr.New(apperr.InputInvalid, op, "post is still being generated")
	}

	err = p.db.WithinTx(ctx, func(ctx context.Context, repo *repository.Repository) error {
		if err := repo.Image.DeleteByPostID(ctx, postID); err != nil {
			return err
		}
		return repo.Post.Delete(ctx, postID)
	})
	if err != nil {
		return notFound(op, err)
	}

	for _, img := range post.Images {
		if err := p.objects.Delete(ctx, img.StoragePath); err != nil {
			p.log.Warn("could not delete image file",
				zap.String("post_id", postID),
				zap.String("path", img.StoragePath),
				zap.Error(err),
			)
		}
	}
	return nil
}
