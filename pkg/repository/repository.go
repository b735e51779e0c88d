package repository

import (
	"context"

	"github.com/smallbiznis/storyvoice/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is an append-only generic store: rows can be created and
// read, never updated or deleted.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}
