package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"github.com/hray3182/medline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// medicationRow is the SQLite representation of a medication. Slots and
// weekdays are stored as JSON text.
type medicationRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Dosage       string
	Color        string
	ImageURI     string
	Notes        string
	Frequency    string    `gorm:"not null"`
	WeekdaysJSON string    `gorm:"type:text"`
	SlotsJSON    string    `gorm:"type:text"`
	Active       bool      `gorm:"index"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (medicationRow) TableName() string {
	return "medications"
}

// SQLiteMedicationRepository stores medications in a local SQLite file.
type SQLiteMedicationRepository struct {
	db *gorm.DB
}

// OpenSQLite opens path with the pure Go driver and migrates the schema.
func OpenSQLite(path string) (*SQLiteMedicationRepository, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetConnMaxLifetime(time.Hour)
	}
	return NewSQLiteMedicationRepository(conn)
}

func NewSQLiteMedicationRepository(conn *sql.DB) (*SQLiteMedicationRepository, error) {
	db, err := gorm.Open(sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&medicationRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &SQLiteMedicationRepository{db: db}, nil
}

func (r *SQLiteMedicationRepository) Close() error {
	conn, err := r.db.DB()
	if err != nil {
		return err
	}
	return conn.Close()
}

func (r *SQLiteMedicationRepository) Save(ctx context.Context, med *models.Medication) error {
	row, err := toRow(med)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(row).Error
}

func (r *SQLiteMedicationRepository) Get(ctx context.Context, id string) (*models.Medication, error) {
	var row medicationRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *SQLiteMedicationRepository) List(ctx context.Context) ([]*models.Medication, error) {
	var rows []medicationRow
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	meds := make([]*models.Medication, 0, len(rows))
	for i := range rows {
		med, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		meds = append(meds, med)
	}
	return meds, nil
}

func (r *SQLiteMedicationRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&medicationRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func toRow(med *models.Medication) (*medicationRow, error) {
	slots, err := json.Marshal(encodeSlots(med.Slots))
	if err != nil {
		return nil, err
	}
	weekdays, err := json.Marshal(encodeWeekdays(med.Frequency.Weekdays))
	if err != nil {
		return nil, err
	}
	return &medicationRow{
		ID:           med.ID,
		Name:         med.Name,
		Dosage:       med.Dosage,
		Color:        med.Color,
		ImageURI:     med.ImageURI,
		Notes:        med.Notes,
		Frequency:    string(med.Frequency.Kind),
		WeekdaysJSON: string(weekdays),
		SlotsJSON:    string(slots),
		Active:       med.Active,
		CreatedAt:    med.CreatedAt,
		UpdatedAt:    med.UpdatedAt,
	}, nil
}

func (row *medicationRow) toModel() (*models.Medication, error) {
	var (
		slots    []string
		weekdays []int16
	)
	if row.SlotsJSON != "" {
		if err := json.Unmarshal([]byte(row.SlotsJSON), &slots); err != nil {
			return nil, fmt.Errorf("medication %s: bad slots: %w", row.ID, err)
		}
	}
	if row.WeekdaysJSON != "" {
		if err := json.Unmarshal([]byte(row.WeekdaysJSON), &weekdays); err != nil {
			return nil, fmt.Errorf("medication %s: bad weekdays: %w", row.ID, err)
		}
	}

	decoded, err := decodeSlots(slots)
	if err != nil {
		return nil, fmt.Errorf("medication %s: %w", row.ID, err)
	}
	return &models.Medication{
		ID:        row.ID,
		Name:      row.Name,
		Dosage:    row.Dosage,
		Color:     row.Color,
		ImageURI:  row.ImageURI,
		Notes:     row.Notes,
		Frequency: models.Frequency{Kind: models.FrequencyKind(row.Frequency), Weekdays: decodeWeekdays(weekdays)},
		Slots:     decoded,
		Active:    row.Active,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
