package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lilninoo/learnpress-offline-app-sub000/internal/client"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/crypto"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/models"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/services"
	"github.com/lilninoo/learnpress-offline-app-sub000/internal/vault"
)

// openTestStore opens a fresh vault database in a temporary directory and
// runs all migrations against it
func openTestStore(t *testing.T) *vault.Store {
	t.Helper()

	store, err := vault.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err, "Failed to open vault")
	require.NoError(t, store.Migrate(), "Failed to run migrations")
	t.Cleanup(func() { store.Close() })
	return store
}

// seedCourse persists one course with a section and two lessons
func seedCourse(t *testing.T, store *vault.Store) {
	t.Helper()

	now := time.Now().UTC()
	course := &models.Course{
		ID:             100,
		Title:          "Offline Photography Masterclass",
		Instructor:     "R. Okafor",
		Category:       "photography",
		Tags:           []string{"camera", "editing"},
		SchemaVersion:  1,
		DownloadStatus: models.DownloadStatusCompleted,
		DownloadedAt:   now,
		LastAccessedAt: now,
	}
	sections := []models.Section{
		{ID: 1, CourseID: 100, Title: "Fundamentals", Position: 1},
	}
	lessons := []models.Lesson{
		{ID: 10, SectionID: 1, CourseID: 100, Title: "Exposure", Type: models.LessonTypeVideo, Position: 1, UpdatedAt: now},
		{ID: 11, SectionID: 1, CourseID: 100, Title: "Composition", Type: models.LessonTypeQuiz, Position: 2, UpdatedAt: now},
	}

	repo := vault.NewCourseRepository(store)
	require.NoError(t, repo.SaveContent(context.Background(), course, sections, lessons))
}

// newSyncBackend fakes the LMS endpoints a sweep needs: login and the
// progress sink. Every submitted change is accepted.
func newSyncBackend(t *testing.T, accepted *[]int64) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/course-vault/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "at-integration",
			"refreshToken": "rt-integration",
			"user":         map[string]any{"id": 1, "username": "student"},
		})
	})
	mux.HandleFunc("/wp-json/course-vault/v1/sync/progress", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Changes []client.SyncChange `json:"changes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		results := make([]client.SyncResult, 0, len(body.Changes))
		for _, ch := range body.Changes {
			*accepted = append(*accepted, ch.ID)
			results = append(results, client.SyncResult{ID: ch.ID, Accepted: true})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	return httptest.NewServer(mux)
}

func TestLessonProgressReachesServer(t *testing.T) {
	store := openTestStore(t)
	seedCourse(t, store)
	ctx := context.Background()

	lessonRepo := vault.NewLessonRepository(store)
	outboxRepo := vault.NewOutboxRepository(store)

	// partial progress, then completion
	require.NoError(t, lessonRepo.UpdateProgress(ctx, 10, 50, 300))
	require.NoError(t, lessonRepo.UpdateProgress(ctx, 10, 100, 600))

	pending, err := outboxRepo.PendingBatch(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// completion outranks plain progress in the sweep order
	assert.Equal(t, models.OutboxActionComplete, pending[0].Action)
	assert.Equal(t, models.OutboxActionProgress, pending[1].Action)

	var accepted []int64
	backend := newSyncBackend(t, &accepted)
	defer backend.Close()

	lmsClient, err := client.New(client.Options{
		BaseURL:  backend.URL,
		DeviceID: "integration-device",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = lmsClient.Login(ctx, "student", "secret")
	require.NoError(t, err)

	syncService := services.NewSyncService(outboxRepo, lmsClient, zap.NewNop())
	count, err := syncService.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, accepted, 2)

	// the outbox is drained; a second sweep submits nothing
	pending, err = outboxRepo.PendingBatch(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	lesson, err := lessonRepo.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.True(t, lesson.Completed)
	assert.Equal(t, 100, lesson.Progress)
}

func TestCourseDeleteCascades(t *testing.T) {
	store := openTestStore(t)
	seedCourse(t, store)
	ctx := context.Background()

	courseRepo := vault.NewCourseRepository(store)
	lessonRepo := vault.NewLessonRepository(store)

	require.NoError(t, courseRepo.Delete(ctx, 100))

	_, err := courseRepo.GetByID(ctx, 100)
	assert.ErrorIs(t, err, vault.ErrNotFound)

	lessons, err := lessonRepo.GetByCourse(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func TestDeviceIdentityIsStable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	settingsRepo := vault.NewSettingsRepository(store)
	cryptoService := crypto.NewService()

	deviceID, err := settingsRepo.DeviceID(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(deviceID)
	require.NoError(t, err, "device id must be a uuid")

	again, err := settingsRepo.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, deviceID, again)

	salt, err := settingsRepo.KeySalt(ctx, cryptoService.GenerateSalt)
	require.NoError(t, err)
	require.NotEmpty(t, salt)

	saltAgain, err := settingsRepo.KeySalt(ctx, cryptoService.GenerateSalt)
	require.NoError(t, err)
	assert.Equal(t, salt, saltAgain)

	// the derived key is reproducible from passphrase and stored salt
	key := cryptoService.DeriveKey("correct horse battery", salt)
	assert.Equal(t, key, cryptoService.DeriveKey("correct horse battery", saltAgain))
	assert.Len(t, key, crypto.KeySize)
}

func TestQuizAttemptsAccumulate(t *testing.T) {
	store := openTestStore(t)
	seedCourse(t, store)
	ctx := context.Background()

	quizRepo := vault.NewQuizRepository(store)
	outboxRepo := vault.NewOutboxRepository(store)

	quiz := &models.Quiz{
		ID:           5,
		LessonID:     11,
		Title:        "Composition basics",
		Questions:    []byte("encrypted-questions"),
		PassingGrade: 60,
	}
	require.NoError(t, quizRepo.UpsertQuiz(ctx, quiz))

	require.NoError(t, quizRepo.RecordAttempt(ctx, 5, 70))
	require.NoError(t, quizRepo.RecordAttempt(ctx, 5, 55))

	stored, err := quizRepo.GetQuizByLesson(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, 70, stored.BestScore, "best score keeps the higher attempt")

	// re-upserting the definition preserves local attempt history
	quiz.Title = "Composition basics (v2)"
	require.NoError(t, quizRepo.UpsertQuiz(ctx, quiz))
	stored, err = quizRepo.GetQuizByLesson(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, 70, stored.BestScore)

	pending, err := outboxRepo.PendingBatch(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "each attempt queues one outbox entry")
}

func TestNoteLifecycleQueuesSync(t *testing.T) {
	store := openTestStore(t)
	seedCourse(t, store)
	ctx := context.Background()

	noteRepo := vault.NewNoteRepository(store)
	outboxRepo := vault.NewOutboxRepository(store)

	note := &models.Note{
		LessonID: 10,
		CourseID: 100,
		Content:  []byte("encrypted-note-body"),
	}
	require.NoError(t, noteRepo.CreateNote(ctx, note))
	require.NotZero(t, note.ID)

	require.NoError(t, noteRepo.UpdateNote(ctx, note.ID, []byte("encrypted-note-body-v2")))

	notes, err := noteRepo.GetNotesByLesson(ctx, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.True(t, bytes.Equal([]byte("encrypted-note-body-v2"), notes[0].Content))

	require.NoError(t, noteRepo.DeleteNote(ctx, note.ID))
	notes, err = noteRepo.GetNotesByLesson(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, notes)

	pending, err := outboxRepo.PendingBatch(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "create, update and delete each queue an entry")
}
