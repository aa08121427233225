package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/lms-api/internal/models"
	"github.com/opencourse/lms-api/pkg/jobs"
	"github.com/opencourse/lms-api/pkg/storage"
)

type mockReportJobRepo struct {
	jobs map[string]models.ReportJob
}

func (m *mockReportJobRepo) Create(_ context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = "job-new"
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockReportJobRepo) FindByID(_ context.Context, id string) (*models.ReportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &job, nil
}

func (m *mockReportJobRepo) UpdateStatus(_ context.Context, id string, status models.ReportStatus) error {
	job := m.jobs[id]
	job.Status = status
	m.jobs[id] = job
	return nil
}

func (m *mockReportJobRepo) MarkFinished(_ context.Context, id, resultURL string, finishedAt time.Time) error {
	job := m.jobs[id]
	job.Status = models.ReportStatusFinished
	job.ResultURL = &resultURL
	job.FinishedAt = &finishedAt
	m.jobs[id] = job
	return nil
}

func (m *mockReportJobRepo) MarkFailed(_ context.Context, id, message string, finishedAt time.Time) error {
	job := m.jobs[id]
	job.Status = models.ReportStatusFailed
	job.ErrorMessage = &message
	job.FinishedAt = &finishedAt
	m.jobs[id] = job
	return nil
}

func (m *mockReportJobRepo) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var result []models.ReportJob
	for _, job := range m.jobs {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			result = append(result, job)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *mockReportJobRepo) MarkExpired(_ context.Context, id string) error {
	job := m.jobs[id]
	job.Status = models.ReportStatusExpired
	job.ResultURL = nil
	m.jobs[id] = job
	return nil
}

func newExportFixture(t *testing.T, retention ExportRetention) (*ExportService, *mockReportJobRepo, *storage.LocalStorage, *storage.SignedURLSigner) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test_secret", time.Hour)
	repo := &mockReportJobRepo{jobs: map[string]models.ReportJob{}}
	svc := NewExportService(repo, nil, store, signer, jobs.QueueConfig{}, retention, nil)
	return svc, repo, store, signer
}

func TestExportServiceCreateJobRejectsUnknownFormat(t *testing.T) {
	svc, _, _, _ := newExportFixture(t, ExportRetention{})

	_, err := svc.CreateJob(context.Background(), "crs-1", models.ReportJobParams{Format: "xlsx"}, "u1")
	require.Error(t, err)
}

func TestExportServiceCleanupRemovesExpiredFiles(t *testing.T) {
	retention := ExportRetention{ResultTTL: 48 * time.Hour, CleanupInterval: time.Hour}
	svc, repo, store, signer := newExportFixture(t, retention)

	relPath, err := store.Save("weights/job-old.csv", []byte("Topic,Weight\n"))
	require.NoError(t, err)
	token, _, err := signer.Generate("job-old", relPath)
	require.NoError(t, err)
	finished := time.Now().UTC().Add(-72 * time.Hour)
	repo.jobs["job-old"] = models.ReportJob{
		ID:         "job-old",
		CourseID:   "crs-1",
		Status:     models.ReportStatusFinished,
		ResultURL:  &token,
		FinishedAt: &finished,
	}

	svc.cleanupExpired(context.Background())

	_, err = store.Open(relPath)
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusExpired, repo.jobs["job-old"].Status)
	assert.Nil(t, repo.jobs["job-old"].ResultURL)
}

func TestExportServiceCleanupKeepsRecentFiles(t *testing.T) {
	retention := ExportRetention{ResultTTL: 48 * time.Hour, CleanupInterval: time.Hour}
	svc, repo, store, signer := newExportFixture(t, retention)

	relPath, err := store.Save("weights/job-fresh.csv", []byte("Topic,Weight\n"))
	require.NoError(t, err)
	token, _, err := signer.Generate("job-fresh", relPath)
	require.NoError(t, err)
	finished := time.Now().UTC().Add(-time.Hour)
	repo.jobs["job-fresh"] = models.ReportJob{
		ID:         "job-fresh",
		CourseID:   "crs-1",
		Status:     models.ReportStatusFinished,
		ResultURL:  &token,
		FinishedAt: &finished,
	}

	svc.cleanupExpired(context.Background())

	file, err := store.Open(relPath)
	require.NoError(t, err)
	file.Close()
	assert.Equal(t, models.ReportStatusFinished, repo.jobs["job-fresh"].Status)
}
