package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/storyvoice/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID     int64 `gorm:"primaryKey"`
	Owner  int64
	Weight int64
}

func setupStore(t *testing.T) Repository[note] {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&note{}))
	return ProvideStore[note](db)
}

func TestStoreCreateAndRead(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, store.Create(ctx, &note{ID: i, Owner: i % 2, Weight: i * 10}))
	}

	rows, err := store.Find(ctx, &note{Owner: 1}, option.WithOrder("id desc"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ID)

	rows, err = store.Find(ctx, &note{}, option.ApplyOperator(option.Condition{
		Field:    "weight",
		Operator: option.GTE,
		Value:    30,
	}), option.WithLimit(1), option.WithOrder("id asc"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID)

	count, err := store.Count(ctx, &note{Owner: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	missing, err := store.FindOne(ctx, &note{ID: 99})
	require.NoError(t, err)
	assert.Nil(t, missing)
}
