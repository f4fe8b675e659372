package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"mindmate/pkg/domain"
)

const migrateLockID int64 = 51735173

// processing writes are compare-and-set; a handful of retries covers racing worker deliveries.
const maxProcessingAttempts = 5

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db     *gorm.DB
	driver string
}

// NewGormStore opens the DB and runs auto-migrations.
// DSNs prefixed with "sqlite:" open a SQLite file; anything else is handed to Postgres.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dialector, driver := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &SubjectModel{}, &DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if driver == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, driver: driver}, nil
}

// Driver names the SQL dialect in use.
func (s *GormStore) Driver() string {
	return s.driver
}

func dialectorFor(dsn string) (gorm.Dialector, string) {
	dsn = strings.TrimSpace(dsn)
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return sqlite.Open(path), "sqlite"
	}
	return postgres.Open(dsn), "postgres"
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := advisory(ctx, conn, "SELECT pg_advisory_lock($1)"); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = advisory(ctx, conn, "SELECT pg_advisory_unlock($1)")
	}()
	return fn(db)
}

func advisory(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query, migrateLockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "password_hash", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveSubject inserts a subject.
func (s *GormStore) SaveSubject(ctx context.Context, subject domain.Subject) error {
	model := subjectToModel(subject)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListSubjectsByOwner returns the owner's subjects, newest first.
func (s *GormStore) ListSubjectsByOwner(ctx context.Context, ownerID string) ([]domain.Subject, error) {
	var models []SubjectModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Subject, 0, len(models))
	for _, m := range models {
		res = append(res, subjectFromModel(m))
	}
	return res, nil
}

// GetSubjectOwned returns the subject only when ownerID owns it.
func (s *GormStore) GetSubjectOwned(ctx context.Context, id, ownerID string) (domain.Subject, bool, error) {
	var model SubjectModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Subject{}, false, nil
		}
		return domain.Subject{}, false, err
	}
	return subjectFromModel(model), true, nil
}

// DeleteSubjectOwned removes the subject when ownerID owns it. Documents are left in place.
func (s *GormStore) DeleteSubjectOwned(ctx context.Context, id, ownerID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&SubjectModel{}, "id = ? AND user_id = ?", id, ownerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveDocument inserts a document.
func (s *GormStore) SaveDocument(ctx context.Context, d domain.Document) error {
	model := documentToModel(d)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetDocument loads a document by id regardless of owner.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsBySubject returns documents matching both subject and owner, newest first.
func (s *GormStore) ListDocumentsBySubject(ctx context.Context, subjectID, ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND subject_id = ?", ownerID, subjectID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// UpdateDocumentOwned applies changes in one statement scoped by (id, owner) and
// returns the refreshed row. found is false when no row matched.
func (s *GormStore) UpdateDocumentOwned(ctx context.Context, id, ownerID string, changes DocumentChanges) (domain.Document, bool, error) {
	cols := changes.columns()
	cols["updated_at"] = time.Now().UTC()
	db := s.db.WithContext(ctx)
	res := db.Model(&DocumentModel{}).
		Where("id = ? AND user_id = ?", id, ownerID).
		Updates(cols)
	if res.Error != nil {
		return domain.Document{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Document{}, false, nil
	}
	var model DocumentModel
	if err := db.First(&model, "id = ? AND user_id = ?", id, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// DeleteDocumentOwned removes the document when ownerID owns it.
func (s *GormStore) DeleteDocumentOwned(ctx context.Context, id, ownerID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&DocumentModel{}, "id = ? AND user_id = ?", id, ownerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ApplyProcessing records a worker status report. The write is conditional on the
// status observed before it, so a stale or duplicate delivery can never regress a
// newer state. changed is false when the report was ignored or already applied.
func (s *GormStore) ApplyProcessing(ctx context.Context, id string, update domain.ProcessingUpdate) (domain.Document, bool, error) {
	statusCol, resultCol := processingColumns(update.Kind)
	if statusCol == "" {
		return domain.Document{}, false, fmt.Errorf("unknown processing kind %q", update.Kind)
	}
	db := s.db.WithContext(ctx)
	for attempt := 0; attempt < maxProcessingAttempts; attempt++ {
		current, ok, err := s.GetDocument(ctx, id)
		if err != nil {
			return domain.Document{}, false, err
		}
		if !ok {
			return domain.Document{}, false, ErrNotFound
		}
		next, write := planProcessing(current, update)
		if !write {
			return current, false, nil
		}
		observed, _ := current.Processing(update.Kind)
		status, result := next.Processing(update.Kind)
		now := time.Now().UTC()
		res := db.Model(&DocumentModel{}).
			Where("id = ? AND "+statusCol+" = ?", id, statusOrDefault(observed)).
			Updates(map[string]any{
				statusCol:    string(status),
				resultCol:    result,
				"updated_at": now,
			})
		if res.Error != nil {
			return domain.Document{}, false, res.Error
		}
		if res.RowsAffected == 1 {
			next.UpdatedAt = now
			return next, true, nil
		}
	}
	return domain.Document{}, false, ErrConflict
}
