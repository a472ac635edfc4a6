package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillTaskPositions = "2026-03-08_backfill_task_positions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillTaskPositions, apply: backfillTaskPositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillTaskPositions renumbers owners whose rows all sit at position
// zero, which is how task tables written before the position column looked
// after the column was added. Newer rows get lower positions so the list
// keeps its newest-first appearance.
func backfillTaskPositions(db *gorm.DB) error {
	const statement = `
UPDATE tasks
SET position = (
	SELECT COUNT(*)
	FROM tasks AS newer
	WHERE newer.owner_id = tasks.owner_id
	  AND newer.created_at > tasks.created_at
)
WHERE tasks.owner_id IN (
	SELECT owner_id
	FROM tasks
	GROUP BY owner_id
	HAVING COUNT(*) > 1 AND MAX(position) = 0
);`
	return db.Exec(statement).Error
}
