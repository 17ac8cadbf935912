package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/client"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
)

// progress phase weights; they sum to 1
const (
	packagingWeight = 0.10
	downloadWeight  = 0.60
	encryptWeight   = 0.30
)

// Downloader defines the remote operations the download service needs
type Downloader interface {
	// GetCourseDetails fetches a course with its content tree
	GetCourseDetails(ctx context.Context, courseID int64) (*client.CourseDetails, error)
	// GetLessonContent fetches the rendered body of a lesson
	GetLessonContent(ctx context.Context, lessonID int64) (string, error)
	// GetMediaInfo fetches the downloadable assets of a course
	GetMediaInfo(ctx context.Context, courseID int64) ([]client.MediaInfo, error)
	// CreateCoursePackage asks the server to bundle a course's assets
	CreateCoursePackage(ctx context.Context, courseID int64, opts client.PackageOptions) (*client.PackageHandle, error)
	// PollPackage polls a packaging job to readiness
	PollPackage(ctx context.Context, packageID string, interval, deadline time.Duration) (*client.PackageStatus, error)
	// DownloadFile fetches a URL to a local path with range resumption
	DownloadFile(ctx context.Context, url, destination string, onProgress client.ProgressFunc) error
}

// FileEncryptor defines the streaming encryption method the service needs
type FileEncryptor interface {
	// EncryptFileToPath seals a stream into an envelope file at path
	EncryptFileToPath(src io.Reader, path string, key []byte) (int64, error)
}

// DownloadOptions selects what a course download includes
type DownloadOptions struct {
	Quality      string
	IncludeMedia bool
}

// DownloadService turns "download course X" into a fully persisted,
// encrypted local copy. At most Concurrency courses download at once;
// additional requests wait in FIFO order. One asset failing is recorded
// and skipped; a course with some assets missing finishes as partial, a
// valid terminal state.
type DownloadService struct {
	client    Downloader
	courses   CourseStore
	lessons   LessonStore
	media     MediaStore
	encryptor FileEncryptor
	cipher    ContentCipher
	key       []byte
	mediaDir  string
	log       *zap.Logger

	pollInterval    time.Duration
	packageDeadline time.Duration

	sem chan struct{}

	mu     sync.Mutex
	active map[int64]*downloadHandle
}

type downloadHandle struct {
	cancel context.CancelFunc
}

// DownloadServiceOptions configures a DownloadService
type DownloadServiceOptions struct {
	// Concurrency is the number of simultaneous course downloads; zero
	// means 2
	Concurrency int
	// PollInterval is the package polling cadence; zero means 2s
	PollInterval time.Duration
	// PackageDeadline bounds package polling; zero means 5m
	PackageDeadline time.Duration
	// MediaDir is the directory for encrypted envelopes
	MediaDir string
}

// NewDownloadService creates a new download service
func NewDownloadService(dl Downloader, courses CourseStore, lessons LessonStore, media MediaStore, encryptor FileEncryptor, cipher ContentCipher, key []byte, opts DownloadServiceOptions, log *zap.Logger) *DownloadService {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	packageDeadline := opts.PackageDeadline
	if packageDeadline <= 0 {
		packageDeadline = 5 * time.Minute
	}

	return &DownloadService{
		client:          dl,
		courses:         courses,
		lessons:         lessons,
		media:           media,
		encryptor:       encryptor,
		cipher:          cipher,
		key:             key,
		mediaDir:        opts.MediaDir,
		log:             log,
		pollInterval:    pollInterval,
		packageDeadline: packageDeadline,
		sem:             make(chan struct{}, concurrency),
		active:          make(map[int64]*downloadHandle),
	}
}

// ErrDownloadInProgress is returned when the same course is requested twice
var ErrDownloadInProgress = errors.New("services: download already queued or running")

// DownloadTicket is the caller's view of a queued download: a progress
// stream and the terminal result. Progress closes after exactly one
// terminal update; Result delivers exactly one value.
type DownloadTicket struct {
	CourseID int64
	Progress <-chan models.DownloadProgress
	Result   <-chan models.DownloadResult
}

// Download queues a course download. The progress channel carries
// monotonically non-decreasing percentages; re-observing a terminal status
// is a no-op for consumers.
func (s *DownloadService) Download(ctx context.Context, courseID int64, opts DownloadOptions) (*DownloadTicket, error) {
	s.mu.Lock()
	if _, exists := s.active[courseID]; exists {
		s.mu.Unlock()
		return nil, ErrDownloadInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	handle := &downloadHandle{cancel: cancel}
	s.active[courseID] = handle
	s.mu.Unlock()

	updates := make(chan models.DownloadProgress, 16)
	resultCh := make(chan models.DownloadResult, 1)

	go func() {
		defer close(updates)
		defer close(resultCh)
		defer func() {
			s.mu.Lock()
			delete(s.active, courseID)
			s.mu.Unlock()
			cancel()
		}()

		tracker := newProgressTracker(courseID, updates)
		tracker.report(models.DownloadStatusQueued, 0, "")

		// FIFO admission; a cancellation while queued removes the
		// download outright
		select {
		case s.sem <- struct{}{}:
		case <-runCtx.Done():
			tracker.terminal(models.DownloadStatusCancelled)
			resultCh <- models.DownloadResult{CourseID: courseID, Status: models.DownloadStatusCancelled}
			return
		}
		defer func() { <-s.sem }()

		result := s.run(runCtx, courseID, opts, tracker)
		s.finish(courseID, result, tracker)
		resultCh <- result
	}()

	return &DownloadTicket{CourseID: courseID, Progress: updates, Result: resultCh}, nil
}

// Cancel stops a download. A queued download is removed outright; a running
// one is cancelled cooperatively, finishing its current file first.
func (s *DownloadService) Cancel(courseID int64) bool {
	s.mu.Lock()
	handle, ok := s.active[courseID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// RequeuePending restarts downloads the previous run left unfinished. The
// queue is rebuilt from the vault's download states; byte-level resumption
// of individual files happens inside DownloadFile.
func (s *DownloadService) RequeuePending(ctx context.Context, opts DownloadOptions) (int, error) {
	requeued := 0
	for _, status := range []models.DownloadStatus{
		models.DownloadStatusQueued,
		models.DownloadStatusPackaging,
		models.DownloadStatusDownloading,
		models.DownloadStatusEncrypting,
	} {
		ids, err := s.courses.ListByDownloadStatus(ctx, status)
		if err != nil {
			return requeued, err
		}
		for _, id := range ids {
			if _, err := s.Download(ctx, id, opts); err != nil {
				if errors.Is(err, ErrDownloadInProgress) {
					continue
				}
				return requeued, err
			}
			requeued++
		}
	}

	if requeued > 0 {
		s.log.Info("unfinished downloads requeued", zap.Int("count", requeued))
	}
	return requeued, nil
}

// run executes the download pipeline for one course
func (s *DownloadService) run(ctx context.Context, courseID int64, opts DownloadOptions, tracker *progressTracker) models.DownloadResult {
	result := models.DownloadResult{CourseID: courseID, Status: models.DownloadStatusFailed}

	// phase 1: server-side packaging
	tracker.report(models.DownloadStatusPackaging, 0, "")
	handle, err := s.client.CreateCoursePackage(ctx, courseID, client.PackageOptions{
		Quality:      opts.Quality,
		IncludeMedia: opts.IncludeMedia,
	})
	if err != nil {
		return s.failed(ctx, courseID, result, "failed to create package", err)
	}
	if _, err := s.client.PollPackage(ctx, handle.ID, s.pollInterval, s.packageDeadline); err != nil {
		return s.failed(ctx, courseID, result, "package never became ready", err)
	}
	tracker.report(models.DownloadStatusPackaging, packagingWeight, "")

	// phase 2: metadata, persisted as one transaction
	details, err := s.client.GetCourseDetails(ctx, courseID)
	if err != nil {
		return s.failed(ctx, courseID, result, "failed to fetch course details", err)
	}
	course, sections, lessons := buildCourseTree(details)
	course.DownloadStatus = models.DownloadStatusDownloading
	if err := s.courses.SaveContent(ctx, course, sections, lessons); err != nil {
		return s.failed(ctx, courseID, result, "failed to persist course", err)
	}

	// lesson bodies are sealed with the vault key before they touch disk;
	// a failed body is recorded and skipped like a failed asset
	for _, lesson := range lessons {
		if !lessonHasBody(lesson.Type) {
			continue
		}
		if ctx.Err() != nil {
			result.Status = models.DownloadStatusCancelled
			return result
		}
		if err := s.fetchLessonContent(ctx, lesson); err != nil {
			if ctx.Err() != nil {
				result.Status = models.DownloadStatusCancelled
				return result
			}
			s.log.Warn("lesson content failed, continuing",
				zap.Int64("courseId", courseID),
				zap.Int64("lessonId", lesson.ID),
				zap.Error(err))
			result.FileErrors = append(result.FileErrors, models.FileError{
				Message: fmt.Sprintf("lesson %d: %v", lesson.ID, err),
			})
		}
	}

	assets := []client.MediaInfo{}
	if opts.IncludeMedia {
		assets, err = s.client.GetMediaInfo(ctx, courseID)
		if err != nil {
			return s.failed(ctx, courseID, result, "failed to fetch media info", err)
		}
	}
	result.FilesTotal = len(assets)

	// phase 3: per-asset download and encryption
	courseDir := filepath.Join(s.mediaDir, fmt.Sprint(courseID))
	if len(assets) > 0 {
		if err := os.MkdirAll(courseDir, 0o700); err != nil {
			return s.failed(ctx, courseID, result, "failed to create media directory", err)
		}
	}

	perFile := 0.0
	if len(assets) > 0 {
		perFile = 1.0 / float64(len(assets))
	}

	for i, asset := range assets {
		if ctx.Err() != nil {
			result.Status = models.DownloadStatusCancelled
			return result
		}

		base := float64(i) * perFile
		err := s.fetchAsset(ctx, courseID, courseDir, asset, tracker, base, perFile)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = models.DownloadStatusCancelled
				return result
			}
			// one bad asset does not abort the course
			s.log.Warn("asset failed, continuing",
				zap.Int64("courseId", courseID),
				zap.String("url", asset.URL),
				zap.Error(err))
			result.FileErrors = append(result.FileErrors, models.FileError{
				URL:     asset.URL,
				Message: err.Error(),
			})
			continue
		}
		result.FilesOK++
	}

	if len(result.FileErrors) > 0 {
		result.Status = models.DownloadStatusPartial
	} else {
		result.Status = models.DownloadStatusCompleted
	}
	return result
}

// fetchAsset downloads one asset to a temporary file, encrypts it into its
// final envelope and records the media row. The plaintext temporary is
// removed in all outcomes.
func (s *DownloadService) fetchAsset(ctx context.Context, courseID int64, courseDir string, asset client.MediaInfo, tracker *progressTracker, base, span float64) error {
	tmpPath := filepath.Join(courseDir, fmt.Sprintf(".tmp-%d", asset.ID))
	defer os.Remove(tmpPath)

	name := filepath.Base(asset.URL)
	err := s.client.DownloadFile(ctx, asset.URL, tmpPath, func(written, total int64) {
		if total > 0 {
			frac := float64(written) / float64(total)
			tracker.report(models.DownloadStatusDownloading,
				packagingWeight+downloadWeight*(base+span*frac), name)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to download asset: %w", err)
	}
	tracker.report(models.DownloadStatusDownloading,
		packagingWeight+downloadWeight*(base+span), name)

	tmp, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to reopen downloaded asset: %w", err)
	}
	defer tmp.Close()

	encName := fmt.Sprintf("%d-%d.enc", asset.LessonID, asset.ID)
	encPath := filepath.Join(courseDir, encName)
	tracker.report(models.DownloadStatusEncrypting,
		packagingWeight+downloadWeight+encryptWeight*base, name)
	size, err := s.encryptor.EncryptFileToPath(tmp, encPath, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt asset: %w", err)
	}
	tracker.report(models.DownloadStatusEncrypting,
		packagingWeight+downloadWeight+encryptWeight*(base+span), name)

	media := &models.Media{
		CourseID:      courseID,
		Type:          models.MediaType(asset.Type),
		EncryptedPath: filepath.Join(fmt.Sprint(courseID), encName),
		SourceURL:     asset.URL,
		Size:          size,
		MimeType:      asset.MimeType,
		Checksum:      asset.Checksum,
		Quality:       asset.Quality,
	}
	if asset.LessonID != 0 {
		lessonID := asset.LessonID
		media.LessonID = &lessonID
	}
	if _, err := s.media.Insert(ctx, media); err != nil {
		// the envelope is orphaned without its row; remove it
		os.Remove(encPath)
		return fmt.Errorf("failed to record media: %w", err)
	}
	return nil
}

// fetchLessonContent pulls one lesson body from the server and stores it as
// an encrypted blob. An empty body is valid and leaves the lesson untouched.
func (s *DownloadService) fetchLessonContent(ctx context.Context, lesson models.Lesson) error {
	body, err := s.client.GetLessonContent(ctx, lesson.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch lesson content: %w", err)
	}
	if body == "" {
		return nil
	}
	sealed, err := s.cipher.Encrypt([]byte(body), s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt lesson content: %w", err)
	}
	if err := s.lessons.SetContent(ctx, lesson.ID, sealed); err != nil {
		return fmt.Errorf("failed to store lesson content: %w", err)
	}
	return nil
}

// lessonHasBody reports whether a lesson type carries downloadable text
// content. Video, audio and PDF lessons are served from media assets instead.
func lessonHasBody(t models.LessonType) bool {
	switch t {
	case models.LessonTypeText, models.LessonTypeQuiz, models.LessonTypeAssignment:
		return true
	default:
		return false
	}
}

// failed logs a pipeline failure and marks the course failed in the vault
func (s *DownloadService) failed(ctx context.Context, courseID int64, result models.DownloadResult, msg string, err error) models.DownloadResult {
	if ctx.Err() != nil {
		result.Status = models.DownloadStatusCancelled
		return result
	}
	s.log.Error(msg, zap.Int64("courseId", courseID), zap.Error(err))
	result.Status = models.DownloadStatusFailed
	result.FileErrors = append(result.FileErrors, models.FileError{Message: fmt.Sprintf("%s: %v", msg, err)})
	return result
}

// finish persists the terminal state and emits the terminal progress event
func (s *DownloadService) finish(courseID int64, result models.DownloadResult, tracker *progressTracker) {
	// a cancelled context must not block the state write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.courses.SetDownloadStatus(ctx, courseID, result.Status); err != nil {
		s.log.Warn("failed to persist download state",
			zap.Int64("courseId", courseID),
			zap.String("status", string(result.Status)),
			zap.Error(err))
	}

	s.log.Info("download finished",
		zap.Int64("courseId", courseID),
		zap.String("status", string(result.Status)),
		zap.Int("filesOk", result.FilesOK),
		zap.Int("filesTotal", result.FilesTotal),
		zap.Int("fileErrors", len(result.FileErrors)))
	tracker.terminal(result.Status)
}

// buildCourseTree converts the normalized remote shapes into vault models
func buildCourseTree(details *client.CourseDetails) (*models.Course, []models.Section, []models.Lesson) {
	now := time.Now().UTC()
	course := &models.Course{
		ID:             details.ID,
		Title:          details.Title,
		Description:    details.Description,
		Instructor:     details.Instructor,
		Category:       details.Category,
		Tags:           []string{},
		ThumbnailPath:  details.Thumbnail,
		SchemaVersion:  1,
		Metadata:       map[string]string{"durationMinutes": strconv.Itoa(details.DurationMinutes)},
		DownloadedAt:   now,
		LastAccessedAt: now,
	}

	var sections []models.Section
	var lessons []models.Lesson
	for _, rs := range details.Sections {
		sections = append(sections, models.Section{
			ID:       rs.ID,
			CourseID: details.ID,
			Title:    rs.Title,
			Position: rs.Position,
		})
		for _, rl := range rs.Lessons {
			lessonType := models.LessonType(rl.Type)
			if !models.ValidLessonType(lessonType) {
				lessonType = models.LessonTypeText
			}
			lessons = append(lessons, models.Lesson{
				ID:        rl.ID,
				SectionID: rs.ID,
				CourseID:  details.ID,
				Title:     rl.Title,
				Type:      lessonType,
				Position:  rl.Position,
				UpdatedAt: now,
			})
		}
	}
	return course, sections, lessons
}

// progressTracker serializes progress updates for one course and enforces
// the monotonic-percent and single-terminal-event guarantees.
type progressTracker struct {
	courseID int64
	updates  chan<- models.DownloadProgress

	mu   sync.Mutex
	best float64
	done bool
}

func newProgressTracker(courseID int64, updates chan<- models.DownloadProgress) *progressTracker {
	return &progressTracker{courseID: courseID, updates: updates}
}

// report emits a non-terminal update; percent never regresses
func (t *progressTracker) report(status models.DownloadStatus, fraction float64, file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	percent := fraction * 100
	if percent < t.best {
		percent = t.best
	}
	if percent > 100 {
		percent = 100
	}
	t.best = percent

	t.send(models.DownloadProgress{
		CourseID:    t.courseID,
		Status:      status,
		Percent:     percent,
		CurrentFile: file,
	})
}

// terminal emits the final update exactly once
func (t *progressTracker) terminal(status models.DownloadStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true

	percent := t.best
	if status == models.DownloadStatusCompleted {
		percent = 100
	}
	t.send(models.DownloadProgress{
		CourseID: t.courseID,
		Status:   status,
		Percent:  percent,
	})
}

// send never blocks; a slow consumer loses intermediate updates, not the
// stream itself
func (t *progressTracker) send(p models.DownloadProgress) {
	select {
	case t.updates <- p:
	default:
		if p.Status.Terminal() {
			// terminal events must land; the channel is buffered and the
			// producer is done, so a blocking send here is safe
			t.updates <- p
		}
	}
}
