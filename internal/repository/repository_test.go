package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/apk-analysis/apk-risk-go/internal/cache"
	"github.com/apk-analysis/apk-risk-go/internal/config"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建内存测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to open test database")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	require.NoError(t, AutoMigrate(db, logger), "Failed to migrate test database")

	return db
}

func testResult(digest string, score float64, created time.Time) *domain.AnalysisResult {
	name := "HDFC Bank"
	pkg := "com.fake.hdfc"
	fs := domain.NewFeatureSet(domain.SourceAndroidBinary)
	fs.AppName = &name
	fs.Package = &pkg
	fs.Permissions = []string{"android.permission.READ_SMS"}

	return &domain.AnalysisResult{
		Digest:    digest,
		Filename:  digest + ".apk",
		SizeBytes: 2048,
		Score:     score,
		Verdict:   domain.VerdictFor(score),
		Reasons: []domain.Reason{
			{Code: domain.ReasonNameSimilarity, Detail: "App name similarity to official bank apps: 56.2/100"},
			{Code: domain.ReasonOTPCapture, Detail: "Requests SMS permissions (OTP capture risk) (+10)"},
		},
		Features:  fs,
		CreatedAt: created,
	}
}

// TestReportRepository_CreateAndGet 测试创建与查询
func TestReportRepository_CreateAndGet(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))
	ctx := context.Background()

	result := testResult("aaa", 65, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, result))
	assert.NotZero(t, result.ID, "ID should be assigned after creation")

	byID, err := repo.GetByID(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, "aaa", byID.Digest)
	assert.Equal(t, domain.VerdictSuspicious, byID.Verdict)
	assert.Equal(t, result.Reasons, byID.Reasons)
	assert.Equal(t, "com.fake.hdfc", byID.Features.PackageValue())
	assert.Equal(t, []string{"android.permission.READ_SMS"}, byID.Features.Permissions)

	byDigest, err := repo.GetByDigest(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, result.ID, byDigest.ID)

	_, err = repo.GetByDigest(ctx, "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

// TestReportRepository_FirstWriterWins 测试同一摘要重复写入不覆盖
func TestReportRepository_FirstWriterWins(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))
	ctx := context.Background()

	first := testResult("dup", 80, time.Now().UTC())
	require.NoError(t, repo.Put(ctx, first))

	second := testResult("dup", 10, time.Now().UTC())
	require.NoError(t, repo.Put(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Score)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestReportRepository_StoreNotFound 测试缓存接口未命中
func TestReportRepository_StoreNotFound(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, "database", repo.Name())
}

// TestReportRepository_List 测试倒序分页
func TestReportRepository_List(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, digest := range []string{"r1", "r2", "r3"} {
		require.NoError(t, repo.Create(ctx, testResult(digest, 10, base.Add(time.Duration(i)*time.Minute))))
	}

	results, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "r3", results[0].Digest)
	assert.Equal(t, "r2", results[1].Digest)
}

// TestBankRepository 测试银行参考数据
func TestBankRepository(t *testing.T) {
	repo := NewBankRepository(setupTestDB(t))
	ctx := context.Background()

	n, err := repo.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(domain.DefaultBanks()), n)

	// 非空时不重复写入
	n, err = repo.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clone := &domain.BankReference{Name: "Axis Mobile Lite", Package: "com.axis.lite", Official: false}
	require.NoError(t, repo.Create(ctx, clone))
	assert.NotZero(t, clone.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(domain.DefaultBanks())+1)
	assert.Equal(t, "Axis Mobile", all[0].Name)
	assert.Equal(t, "Axis Mobile Lite", all[1].Name)

	official, err := repo.ListOfficial(ctx)
	require.NoError(t, err)
	assert.Len(t, official, len(domain.DefaultBanks()))
	for _, b := range official {
		assert.True(t, b.Official)
	}

	require.NoError(t, repo.Delete(ctx, clone.ID))
	assert.ErrorIs(t, repo.Delete(ctx, clone.ID), gorm.ErrRecordNotFound)
}

// TestInitDB_SQLite 测试 SQLite 初始化
func TestInitDB_SQLite(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := InitDB(&config.DatabaseConfig{Type: "sqlite", SQLitePath: t.TempDir() + "/risk.db"}, logger)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&domain.AnalysisReport{}))
	assert.True(t, db.Migrator().HasTable(&domain.BankReference{}))
}
