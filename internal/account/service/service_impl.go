package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/meterly/internal/account/domain"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	name := strings.TrimSpace(req.Name)
	accountSlug := slug.Make(name)
	if name == "" || accountSlug == "" {
		return domain.Account{}, domain.ErrInvalidName
	}

	now := s.now()
	account := domain.Account{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      accountSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Account{}, domain.ErrAccountExists
		}
		return domain.Account{}, err
	}

	s.log.Info("account created", zap.String("account_id", account.ID.String()), zap.String("slug", account.Slug))
	return account, nil
}

// Rename changes the display name only; the slug is fixed at creation.
func (s *Service) Rename(ctx context.Context, req domain.RenameAccountRequest) (domain.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Account{}, domain.ErrInvalidName
	}

	account, err := s.GetByID(ctx, req.ID)
	if err != nil {
		return domain.Account{}, err
	}
	account.Name = name
	account.UpdatedAt = s.now()
	if err := s.repo.UpdateName(ctx, s.db, &account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	if id == 0 {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

// GetByName resolves an account from its display name through the slug.
func (s *Service) GetByName(ctx context.Context, name string) (domain.Account, error) {
	accountSlug := slug.Make(strings.TrimSpace(name))
	if accountSlug == "" {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	account, err := s.repo.FindBySlug(ctx, s.db, accountSlug)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
