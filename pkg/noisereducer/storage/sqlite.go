//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/NoiseReducer/pkg/models"
)

const (
	DefaultDBFile  = "noisereducer.sqlite3"
	errDBClientNil = "db client is nil"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Job struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	InputName    string    `json:"input_name"`
	Backend      string    `gorm:"type:varchar(16)" json:"backend"`
	Status       string    `gorm:"type:varchar(16);index:idx_job_status" json:"status"`
	CustomOutput string    `json:"custom_output"`
	DemucsOutput string    `json:"demucs_output"`
	PlotOutput   string    `json:"plot_output"`
	CustomError  string    `json:"custom_error"`
	DemucsError  string    `json:"demucs_error"`
	DurationMs   int       `json:"duration_ms"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `gorm:"index:idx_job_created"`
	UpdatedAt    time.Time
}

type TrainingEpoch struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	RunID      string  `gorm:"type:varchar(36);index:idx_run,priority:1"`
	Epoch      int     `gorm:"index:idx_run,priority:2"`
	TrainLoss  float64 `json:"train_loss"`
	EvalLoss   float64 `json:"eval_loss"`
	DurationMs int64   `json:"duration_ms"`
	CreatedAt  time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("NOISE_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Job{}, &TrainingEpoch{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func toRow(j *models.Job) Job {
	return Job{
		ID:           j.ID,
		InputName:    j.InputName,
		Backend:      string(j.Backend),
		Status:       string(j.Status),
		CustomOutput: j.CustomOutput,
		DemucsOutput: j.DemucsOutput,
		PlotOutput:   j.PlotOutput,
		CustomError:  j.CustomError,
		DemucsError:  j.DemucsError,
		DurationMs:   j.DurationMs,
		ElapsedMs:    j.ElapsedMs,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func (r *Job) toModel() *models.Job {
	return &models.Job{
		ID:           r.ID,
		InputName:    r.InputName,
		Backend:      models.Backend(r.Backend),
		Status:       models.JobStatus(r.Status),
		CustomOutput: r.CustomOutput,
		DemucsOutput: r.DemucsOutput,
		PlotOutput:   r.PlotOutput,
		CustomError:  r.CustomError,
		DemucsError:  r.DemucsError,
		DurationMs:   r.DurationMs,
		ElapsedMs:    r.ElapsedMs,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// CreateJob inserts job. CreatedAt and UpdatedAt are filled in by the
// database layer when zero.
func (c *DBClient) CreateJob(job *models.Job) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	row := toRow(job)
	if err := c.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	job.CreatedAt, job.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

// UpdateJob overwrites every column of an existing job.
func (c *DBClient) UpdateJob(job *models.Job) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	row := toRow(job)
	res := c.DB.Model(&Job{ID: job.ID}).Select("*").Omit("created_at").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	job.UpdatedAt = row.UpdatedAt
	return nil
}

func (c *DBClient) GetJob(id string) (*models.Job, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Job
	err := c.DB.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return row.toModel(), nil
}

// ListJobs returns the newest jobs first. limit <= 0 returns all.
func (c *DBClient) ListJobs(limit int) ([]*models.Job, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.Order("created_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Job
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	out := make([]*models.Job, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (c *DBClient) DeleteJob(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.Where("id = ?", id).Delete(&Job{})
	if res.Error != nil {
		return fmt.Errorf("deleting job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func (c *DBClient) CountJobs() (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&Job{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}

// RecordEpochs appends the history of a training run in one transaction.
func (c *DBClient) RecordEpochs(epochs []models.TrainingEpoch) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if len(epochs) == 0 {
		return nil
	}
	rows := make([]TrainingEpoch, 0, len(epochs))
	for _, e := range epochs {
		rows = append(rows, TrainingEpoch{
			RunID:      e.RunID,
			Epoch:      e.Epoch,
			TrainLoss:  e.TrainLoss,
			EvalLoss:   e.EvalLoss,
			DurationMs: e.Duration.Milliseconds(),
			CreatedAt:  e.CreatedAt,
		})
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 500).Error
	})
}

// TrainingHistory returns the epochs of runID in order.
func (c *DBClient) TrainingHistory(runID string) ([]models.TrainingEpoch, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []TrainingEpoch
	if err := c.DB.Where("run_id = ?", runID).Order("epoch").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying training history: %w", err)
	}
	out := make([]models.TrainingEpoch, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.TrainingEpoch{
			RunID:     r.RunID,
			Epoch:     r.Epoch,
			TrainLoss: r.TrainLoss,
			EvalLoss:  r.EvalLoss,
			Duration:  time.Duration(r.DurationMs) * time.Millisecond,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
