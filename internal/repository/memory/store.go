// Package memory is an in-process implementation of repository.Store used
// by tests and by STORE_BACKEND=memory. Transactions are serialized and roll
// back to a snapshot on error.
package memory

import (
	"autopublisher/internal/models"
	"autopublisher/internal/repository"
	"context"
	"sync"
)

type dataset struct {
	users        map[string]models.User
	credentials  map[string]map[string]models.ProviderCredential
	keywords     map[string]models.Keyword
	posts        map[string]models.Post
	images       map[string]models.Image
	jobs         map[string]models.GenerationJob
	schedules    map[string]models.ScheduleConfig
	imageConfigs map[string]models.ImageConfig
}

func newDataset() *dataset {
	return &dataset{
		users:        map[string]models.User{},
		credentials:  map[string]map[string]models.ProviderCredential{},
		keywords:     map[string]models.Keyword{},
		posts:        map[string]models.Post{},
		images:       map[string]models.Image{},
		jobs:         map[string]models.GenerationJob{},
		schedules:    map[string]models.ScheduleConfig{},
		imageConfigs: map[string]models.ImageConfig{},
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.credentials {
		inner := make(map[string]models.ProviderCredential, len(v))
		for p, cred := range v {
			inner[p] = cred
		}
		c.credentials[k] = inner
	}
	for k, v := range d.keywords {
		v.AuxKeywords = append(models.StringList(nil), v.AuxKeywords...)
		c.keywords[k] = v
	}
	for k, v := range d.posts {
		c.posts[k] = v
	}
	for k, v := range d.images {
		c.images[k] = v
	}
	for k, v := range d.jobs {
		v.Warnings = append(models.StringList(nil), v.Warnings...)
		c.jobs[k] = v
	}
	for k, v := range d.schedules {
		v.DaysOfWeek = append(models.IntList(nil), v.DaysOfWeek...)
		c.schedules[k] = v
	}
	for k, v := range d.imageConfigs {
		c.imageConfigs[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	data  *dataset
	repos *repository.Repository
}

func NewStore() *Store {
	s := &Store{data: newDataset()}
	s.repos = s.newRepository(false)
	return s
}

func (s *Store) Repos() *repository.Repository {
	return s.repos
}

func (s *Store) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	if err := fn(ctx, s.newRepository(true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) newRepository(inTx bool) *repository.Repository {
	b := base{store: s, inTx: inTx}
	return &repository.Repository{
		User:        &userRepo{b},
		Credential:  &credentialRepo{b},
		Keyword:     &keywordRepo{b},
		Post:        &postRepo{b},
		Image:       &imageRepo{b},
		Job:         &jobRepo{b},
		Schedule:    &scheduleRepo{b},
		ImageConfig: &imageConfigRepo{b},
	}
}

// base gives every repo access to the current dataset. Repos bound to a
// transaction run under the lock already held by WithinTx.
type base struct {
	store *Store
	inTx  bool
}

func (b base) lock() func() {
	if b.inTx {
		return func() {}
	}
	b.store.mu.Lock()
	return b.store.mu.Unlock
}

func (b base) data() *dataset {
	return b.store.data
}
