package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/opencourse/lms-api/internal/models"
	appErrors "github.com/opencourse/lms-api/pkg/errors"
	"github.com/opencourse/lms-api/pkg/export"
	"github.com/opencourse/lms-api/pkg/jobs"
	"github.com/opencourse/lms-api/pkg/storage"
)

type reportJobRepo interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error
	MarkFinished(ctx context.Context, id, resultURL string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
	MarkExpired(ctx context.Context, id string) error
}

// ExportRetention bounds how long finished report files stay on disk and how
// often the sweep that enforces it runs. A zero interval or TTL disables the
// sweep.
type ExportRetention struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

type breakdownProvider interface {
	WeightBreakdown(ctx context.Context, courseID string, includeChildren bool) (*models.CourseWeightBreakdown, error)
}

// ExportService produces downloadable weight reports through a background
// worker queue. Files land in local storage and are served via signed URLs.
type ExportService struct {
	repo      reportJobRepo
	breakdown breakdownProvider
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	store     *storage.LocalStorage
	signer    *storage.SignedURLSigner
	queue     *jobs.Queue
	retention ExportRetention
	logger    *zap.Logger
}

// NewExportService constructs ExportService. Call Start before enqueueing.
func NewExportService(repo reportJobRepo, breakdown breakdownProvider, store *storage.LocalStorage, signer *storage.SignedURLSigner, cfg jobs.QueueConfig, retention ExportRetention, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExportService{
		repo:      repo,
		breakdown: breakdown,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		store:     store,
		signer:    signer,
		retention: retention,
		logger:    logger,
	}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("weight-reports", s.process, cfg)
	return s
}

// Start launches the worker pool and the retention sweep.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	s.startCleanup(ctx)
}

func (s *ExportService) startCleanup(ctx context.Context) {
	if s.retention.CleanupInterval <= 0 || s.retention.ResultTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.retention.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// cleanupExpired deletes report files past their retention window and marks
// the jobs expired so polling stops handing out dead links. Orphaned files
// that no job points at are swept by age afterwards.
func (s *ExportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention.ResultTTL)
	const batchSize = 100
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, batchSize)
		if err != nil {
			s.logger.Warn("retention sweep query failed", zap.Error(err))
			return
		}
		if len(expired) == 0 {
			break
		}
		for _, job := range expired {
			if job.ResultURL != nil {
				// The stored token may be past its signing TTL by now;
				// parse it leniently to recover the file path.
				if _, relPath, _, err := s.signer.Parse(*job.ResultURL, true); err == nil {
					if err := s.store.Delete(relPath); err != nil {
						s.logger.Warn("failed to delete expired report file", zap.String("job_id", job.ID), zap.Error(err))
					}
				}
			}
			if err := s.repo.MarkExpired(ctx, job.ID); err != nil {
				s.logger.Warn("failed to mark report job expired", zap.String("job_id", job.ID), zap.Error(err))
				return
			}
		}
		if len(expired) < batchSize {
			break
		}
	}
	deleted, err := s.store.CleanupOlderThan(s.retention.ResultTTL)
	if err != nil {
		s.logger.Warn("storage retention sweep failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("expired report files removed", zap.Int("count", len(deleted)))
	}
}

// Stop drains the worker pool.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// CreateJob queues a new weight report export.
func (s *ExportService) CreateJob(ctx context.Context, courseID string, params models.ReportJobParams, createdBy string) (*models.ReportJob, error) {
	if params.Format != models.ReportFormatCSV && params.Format != models.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	job := &models.ReportJob{
		CourseID:  courseID,
		Params:    params,
		Status:    models.ReportStatusQueued,
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "weight_report", Payload: job.ID}); err != nil {
		s.markFailed(ctx, job.ID, "queue is full")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return job, nil
}

// GetJob returns job status for polling.
func (s *ExportService) GetJob(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// OpenDownload validates a signed token and opens the exported file.
func (s *ExportService) OpenDownload(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download link")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, relPath, nil
}

func (s *ExportService) process(ctx context.Context, queued jobs.Job) error {
	jobID, _ := queued.Payload.(string)
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", jobID, err)
	}
	if err := s.repo.UpdateStatus(ctx, job.ID, models.ReportStatusProcessing); err != nil {
		s.logger.Warn("failed to mark job processing", zap.String("job_id", job.ID), zap.Error(err))
	}

	breakdown, err := s.breakdown.WeightBreakdown(ctx, job.CourseID, job.Params.IncludeChildren)
	if err != nil {
		s.markFailed(ctx, job.ID, err.Error())
		return err
	}

	dataset := buildWeightDataset(breakdown, job.Params.IncludeChildren)
	var payload []byte
	filename := fmt.Sprintf("weights/%s.%s", job.ID, job.Params.Format)
	switch job.Params.Format {
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Course Weight Report %s", job.CourseID))
	default:
		payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		s.markFailed(ctx, job.ID, err.Error())
		return err
	}

	if _, err := s.store.Save(filename, payload); err != nil {
		s.markFailed(ctx, job.ID, err.Error())
		return err
	}
	signedURL, _, err := s.signer.Generate(job.ID, filename)
	if err != nil {
		s.markFailed(ctx, job.ID, err.Error())
		return err
	}
	if err := s.repo.MarkFinished(ctx, job.ID, signedURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark export job finished: %w", err)
	}
	s.logger.Info("weight report exported",
		zap.String("job_id", job.ID),
		zap.String("course_id", job.CourseID),
		zap.String("format", string(job.Params.Format)),
	)
	return nil
}

func (s *ExportService) markFailed(ctx context.Context, jobID, message string) {
	if err := s.repo.MarkFailed(ctx, jobID, message, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to mark export job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func buildWeightDataset(breakdown *models.CourseWeightBreakdown, includeChildren bool) export.Dataset {
	if !includeChildren {
		dataset := export.Dataset{Headers: []string{"Topic", "Lecture Total", "Exam Total", "Weight"}}
		for _, topic := range breakdown.Topics {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Topic":         topic.Title,
				"Lecture Total": formatWeight(topic.LectureTotal),
				"Exam Total":    formatWeight(topic.ExamTotal),
				"Weight":        formatWeight(topic.Weight),
			})
		}
		return dataset
	}
	dataset := export.Dataset{Headers: []string{"Topic", "Type", "Title", "Basis", "Weight"}}
	for _, topic := range breakdown.Topics {
		for _, lecture := range topic.Lectures {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Topic":  topic.Title,
				"Type":   "lecture",
				"Title":  lecture.Title,
				"Basis":  formatWeight(lecture.Duration),
				"Weight": formatWeight(lecture.Weight),
			})
		}
		for _, exam := range topic.Exams {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Topic":  topic.Title,
				"Type":   "exam",
				"Title":  exam.Title,
				"Basis":  formatWeight(exam.Marks),
				"Weight": formatWeight(exam.Weight),
			})
		}
	}
	return dataset
}

func formatWeight(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
