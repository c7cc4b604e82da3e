package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateAccountRequest struct {
	Name string
}

type RenameAccountRequest struct {
	ID   snowflake.ID
	Name string
}

type Service interface {
	Create(context.Context, CreateAccountRequest) (Account, error)
	Rename(context.Context, RenameAccountRequest) (Account, error)
	GetByID(context.Context, snowflake.ID) (Account, error)
	GetByName(context.Context, string) (Account, error)
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrAccountNotFound = errors.New("account_not_found")
	ErrAccountExists   = errors.New("account_exists")
)
