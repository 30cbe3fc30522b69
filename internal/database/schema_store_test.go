package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/docintake/testutil/fixtures"
	"github.com/BaSui01/docintake/types"
)

func newTestStore(t *testing.T) (*SchemaStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(AllModels()...))

	store := NewSchemaStore(db, nil)
	ctx := context.Background()
	for _, d := range []*types.SchemaDetails{
		fixtures.PublicDetails("pub-invoice", fixtures.InvoiceSchema()),
		fixtures.PublicDetails("pub-claim", fixtures.ClaimSchema()),
		fixtures.TenantDetails("t1-custom", "t1", "", fixtures.InvoiceSchema()),
		fixtures.TenantDetails("t2-custom", "t2", "invoice", fixtures.InvoiceSchema()),
	} {
		row, err := NewSchemaRow(d)
		require.NoError(t, err)
		require.NoError(t, db.WithContext(ctx).Create(row).Error)
	}
	return store, db
}

func TestSchemaStore_TenantIsolation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	d, err := store.GetSchemaDetails(ctx, "t1-custom", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", d.TenantID)
	assert.True(t, d.TenantOwned())
	assert.Empty(t, d.DocumentType)
	assert.Equal(t, fixtures.InvoiceSchema().Digest(), d.Schema.Digest())

	_, err = store.GetSchemaContent(ctx, "t1-custom", "t2")
	assert.True(t, types.IsErrorCode(err, types.ErrSchemaNotFound), "other tenants cannot read it")

	s, err := store.GetSchemaContent(ctx, "pub-claim", "t2")
	require.NoError(t, err, "public templates are visible to every tenant")
	assert.Equal(t, "claim", s.DocumentType)
}

func TestSchemaStore_FindPublicSchema(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	d, err := store.FindPublicSchema(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, "pub-invoice", d.ID)
	assert.True(t, d.IsPublic)

	_, err = store.FindPublicSchema(ctx, "passport")
	assert.True(t, types.IsErrorCode(err, types.ErrSchemaNotFound))
}

func TestSchemaStore_UpdateDocumentType(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateDocumentType(ctx, "t1-custom", "t1", "invoice"))
	d, err := store.GetSchemaDetails(ctx, "t1-custom", "t1")
	require.NoError(t, err)
	assert.Equal(t, "invoice", d.DocumentType)

	// 已有类型不被覆盖
	require.NoError(t, store.UpdateDocumentType(ctx, "t1-custom", "t1", "receipt"))
	d, err = store.GetSchemaDetails(ctx, "t1-custom", "t1")
	require.NoError(t, err)
	assert.Equal(t, "invoice", d.DocumentType)

	// 公共模板不可写
	require.NoError(t, store.UpdateDocumentType(ctx, "pub-claim", "t1", "other"))
	d, err = store.GetSchemaDetails(ctx, "pub-claim", "t1")
	require.NoError(t, err)
	assert.Equal(t, "claim", d.DocumentType)

	assert.Error(t, store.UpdateDocumentType(ctx, "t1-custom", "", "invoice"))
}

func TestSchemaStore_ListAndCreate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	list, err := store.List(ctx, "t1")
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	assert.ElementsMatch(t, []string{"pub-invoice", "pub-claim", "t1-custom"}, ids)

	created, err := store.Create(ctx, &types.SchemaDetails{TenantID: "t1", Schema: fixtures.ClaimSchema()})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "claim", created.Name)
	assert.Equal(t, "claim", created.DocumentType)

	_, err = store.Create(ctx, &types.SchemaDetails{TenantID: "t1", Schema: &types.Schema{}})
	assert.True(t, types.IsErrorCode(err, types.ErrSchemaInvalid))

	typed, err := store.ListTyped(ctx)
	require.NoError(t, err)
	for _, d := range typed {
		assert.NotEmpty(t, d.DocumentType, d.ID)
	}
	assert.Len(t, typed, 4)
}

func TestSchemaStore_SkipsCorruptRows(t *testing.T) {
	store, db := newTestStore(t)
	require.NoError(t, db.Create(&SchemaRow{ID: "broken", Name: "broken", IsPublic: true, Content: "{"}).Error)

	list, err := store.List(context.Background(), "")
	require.NoError(t, err)
	for _, d := range list {
		assert.NotEqual(t, "broken", d.ID)
	}

	_, err = store.GetSchemaDetails(context.Background(), "broken", "")
	assert.True(t, types.IsErrorCode(err, types.ErrSchemaInvalid))
}
