// Package app assembles the vault kernel behind one facade. Every handle
// is injected by the caller; the package holds no globals.
package app

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/client"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/services"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/streaming"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/vault"
)

// App is the inbound surface of the kernel: authentication, catalog
// browsing, downloads, local reads, progress writes, outbox sync and
// stream URL minting.
type App struct {
	client    *client.Client
	courses   *services.CourseService
	downloads *services.DownloadService
	syncer    *services.SyncService
	streamer  *streaming.Server

	media   *vault.MediaRepository
	quizzes *vault.QuizRepository
	notes   *vault.NoteRepository

	mediaDir string
	log      *zap.Logger
}

// Options carries the wired dependencies for New
type Options struct {
	Client    *client.Client
	Courses   *services.CourseService
	Downloads *services.DownloadService
	Syncer    *services.SyncService
	Streamer  *streaming.Server
	Media     *vault.MediaRepository
	Quizzes   *vault.QuizRepository
	Notes     *vault.NoteRepository
	MediaDir  string
	Logger    *zap.Logger
}

// New creates the kernel facade
func New(opts Options) *App {
	return &App{
		client:    opts.Client,
		courses:   opts.Courses,
		downloads: opts.Downloads,
		syncer:    opts.Syncer,
		streamer:  opts.Streamer,
		media:     opts.Media,
		quizzes:   opts.Quizzes,
		notes:     opts.Notes,
		mediaDir:  opts.MediaDir,
		log:       opts.Logger,
	}
}

// Login authenticates against the remote LMS
func (a *App) Login(ctx context.Context, username, password string) (*client.Profile, error) {
	return a.client.Login(ctx, username, password)
}

// Logout drops the session
func (a *App) Logout() {
	a.client.Logout()
}

// SessionState reports the client's authentication state
func (a *App) SessionState() client.SessionState {
	return a.client.State()
}

// CurrentUser returns the authenticated profile, nil when logged out
func (a *App) CurrentUser() *client.Profile {
	return a.client.User()
}

// ClientMetrics returns the advisory request counters
func (a *App) ClientMetrics() client.MetricsSnapshot {
	return a.client.Metrics()
}

// GetCourses lists remote courses the user can access
func (a *App) GetCourses(ctx context.Context, q client.CourseQuery) ([]client.RemoteCourse, error) {
	return a.client.GetCourses(ctx, q)
}

// GetCourseDetails fetches a remote course with its content tree
func (a *App) GetCourseDetails(ctx context.Context, courseID int64) (*client.CourseDetails, error) {
	return a.client.GetCourseDetails(ctx, courseID)
}

// GetMediaInfo lists the downloadable assets of a remote course
func (a *App) GetMediaInfo(ctx context.Context, courseID int64) ([]client.MediaInfo, error) {
	return a.client.GetMediaInfo(ctx, courseID)
}

// DownloadCourse queues a course download and returns its ticket
func (a *App) DownloadCourse(ctx context.Context, courseID int64, opts services.DownloadOptions) (*services.DownloadTicket, error) {
	return a.downloads.Download(ctx, courseID, opts)
}

// CancelDownload cancels a queued or running download
func (a *App) CancelDownload(courseID int64) bool {
	return a.downloads.Cancel(courseID)
}

// ResumeDownloads requeues downloads interrupted by the last shutdown
func (a *App) ResumeDownloads(ctx context.Context, opts services.DownloadOptions) (int, error) {
	return a.downloads.RequeuePending(ctx, opts)
}

// ListLocalCourses lists the courses stored in the vault
func (a *App) ListLocalCourses(ctx context.Context) ([]models.CourseListItem, error) {
	return a.courses.ListLocal(ctx)
}

// GetLocalCourse loads a vault course with its sections and lessons
func (a *App) GetLocalCourse(ctx context.Context, courseID int64) (*services.CourseContent, error) {
	return a.courses.GetCourse(ctx, courseID)
}

// GetLessonText decrypts and returns a text lesson's content
func (a *App) GetLessonText(ctx context.Context, lessonID int64) (string, error) {
	return a.courses.GetLessonText(ctx, lessonID)
}

// UpdateLessonProgress records lesson progress and queues it for sync
func (a *App) UpdateLessonProgress(ctx context.Context, lessonID int64, progress, playbackPosition int) error {
	return a.courses.UpdateLessonProgress(ctx, lessonID, progress, playbackPosition)
}

// CompleteLesson marks a lesson finished and queues the completion for sync
func (a *App) CompleteLesson(ctx context.Context, lessonID int64) error {
	return a.courses.CompleteLesson(ctx, lessonID)
}

// DeleteCourse removes a course, its envelopes and any live stream URLs
func (a *App) DeleteCourse(ctx context.Context, courseID int64) error {
	media, err := a.media.GetByCourse(ctx, courseID)
	if err == nil {
		for _, m := range media {
			a.streamer.Revoke(filepath.Join(a.mediaDir, m.EncryptedPath))
		}
	}
	return a.courses.DeleteCourse(ctx, courseID)
}

// CreateStreamURL mints a loopback URL a local player can open for the
// given media row
func (a *App) CreateStreamURL(ctx context.Context, mediaID int64) (string, error) {
	m, err := a.media.GetByID(ctx, mediaID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(a.mediaDir, m.EncryptedPath)
	return a.streamer.CreateStreamURL(path, m.Size, m.MimeType)
}

// SyncOutbox pushes one batch of pending outbox entries and returns how
// many were accepted
func (a *App) SyncOutbox(ctx context.Context) (int, error) {
	return a.syncer.SweepOnce(ctx)
}

// RunSync sweeps the outbox on the given interval until ctx is cancelled
func (a *App) RunSync(ctx context.Context, interval time.Duration) {
	a.syncer.Run(ctx, interval)
}

// SaveQuiz stores a quiz definition for offline use
func (a *App) SaveQuiz(ctx context.Context, quiz *models.Quiz) error {
	return a.quizzes.UpsertQuiz(ctx, quiz)
}

// GetQuiz loads the quiz attached to a lesson
func (a *App) GetQuiz(ctx context.Context, lessonID int64) (*models.Quiz, error) {
	return a.quizzes.GetQuizByLesson(ctx, lessonID)
}

// RecordQuizAttempt records an offline quiz attempt and queues it for sync
func (a *App) RecordQuizAttempt(ctx context.Context, quizID int64, score int) error {
	return a.quizzes.RecordAttempt(ctx, quizID, score)
}

// SaveAssignment stores an assignment definition for offline use
func (a *App) SaveAssignment(ctx context.Context, assignment *models.Assignment) error {
	return a.quizzes.UpsertAssignment(ctx, assignment)
}

// GetAssignment loads the assignment attached to a lesson
func (a *App) GetAssignment(ctx context.Context, lessonID int64) (*models.Assignment, error) {
	return a.quizzes.GetAssignmentByLesson(ctx, lessonID)
}

// CreateNote stores an encrypted study note and queues it for sync
func (a *App) CreateNote(ctx context.Context, note *models.Note) error {
	return a.notes.CreateNote(ctx, note)
}

// UpdateNote rewrites a note's content and queues the change for sync
func (a *App) UpdateNote(ctx context.Context, noteID int64, content []byte) error {
	return a.notes.UpdateNote(ctx, noteID, content)
}

// DeleteNote removes a note and queues the deletion for sync
func (a *App) DeleteNote(ctx context.Context, noteID int64) error {
	return a.notes.DeleteNote(ctx, noteID)
}

// GetLessonNotes lists the notes attached to a lesson, newest first
func (a *App) GetLessonNotes(ctx context.Context, lessonID int64) ([]models.Note, error) {
	return a.notes.GetNotesByLesson(ctx, lessonID)
}

// SaveCertificate stores a completion certificate
func (a *App) SaveCertificate(ctx context.Context, cert *models.Certificate) error {
	return a.notes.SaveCertificate(ctx, cert)
}

// GetCourseCertificates lists the certificates earned for a course
func (a *App) GetCourseCertificates(ctx context.Context, courseID int64) ([]models.Certificate, error) {
	return a.notes.GetCertificatesByCourse(ctx, courseID)
}
