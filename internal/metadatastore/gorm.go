package metadatastore

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/authctx"
)

// userModel is the users table: one row per authenticated user.
type userModel struct {
	UserID    string `gorm:"column:user_id;primaryKey"`
	OAuthType string `gorm:"column:oauth_type"`
	Sub       string `gorm:"column:sub"`
	Name      string `gorm:"column:name"`
	Picture   string `gorm:"column:picture"`
}

func (userModel) TableName() string { return "users" }

// fileModel is the files table. The unique (user_id, url) index backs the
// ingestion pipeline's duplicate-download check.
type fileModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_user_url"`
	URL       string    `gorm:"column:url;uniqueIndex:idx_user_url"`
	UUID      string    `gorm:"column:uuid"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (fileModel) TableName() string { return "files" }

// GormStore is the Postgres-backed MetadataStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, apperr.Wrap(apperr.DBConnectionFail, err)
	}
	if err := db.AutoMigrate(&userModel{}, &fileModel{}); err != nil {
		return nil, apperr.Wrap(apperr.DBConnectionFail, err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) FindByUserURL(ctx context.Context, userID, url string) (*FileRecord, error) {
	var m fileModel
	err := g.db.WithContext(ctx).Where("user_id = ? AND url = ?", userID, url).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.DBError, err)
	}
	rec := fromModel(m)
	return &rec, nil
}

func (g *GormStore) Insert(ctx context.Context, rec FileRecord) error {
	m := toModel(rec)
	if err := g.db.WithContext(ctx).Create(&m).Error; err != nil {
		return apperr.Wrap(apperr.DatabaseWriteError, err)
	}
	return nil
}

func (g *GormStore) ListByUser(ctx context.Context, userID string) ([]FileRecord, error) {
	var models []fileModel
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.DBError, err)
	}
	out := make([]FileRecord, len(models))
	for i, m := range models {
		out[i] = fromModel(m)
	}
	return out, nil
}

func (g *GormStore) DeleteByKey(ctx context.Context, key string) error {
	if err := g.db.WithContext(ctx).Where("uuid = ?", key).Delete(&fileModel{}).Error; err != nil {
		return apperr.Wrap(apperr.DBError, err)
	}
	return nil
}

func (g *GormStore) EnsureUser(ctx context.Context, user authctx.UserContext, oauthType, sub string) error {
	m := userModel{UserID: user.ID, OAuthType: oauthType, Sub: sub, Name: user.Name, Picture: user.Picture}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "picture"}),
	}).Create(&m).Error
	if err != nil {
		return apperr.Wrap(apperr.DatabaseWriteError, err)
	}
	return nil
}

// Ping checks database reachability for the /healthz probe.
func (g *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return apperr.Wrap(apperr.DBConnectionFail, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.Wrap(apperr.DBConnectionFail, err)
	}
	return nil
}

func toModel(rec FileRecord) fileModel {
	return fileModel{UserID: rec.OwnerUserID, URL: rec.URL, UUID: rec.Key, Name: rec.Title, CreatedAt: rec.CreatedAt}
}

func fromModel(m fileModel) FileRecord {
	return FileRecord{Key: m.UUID, OwnerUserID: m.UserID, URL: m.URL, Title: m.Name, CreatedAt: m.CreatedAt}
}
