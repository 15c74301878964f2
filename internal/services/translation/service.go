// Package translation is the client-facing API of the job engine: creating
// OCR and translation jobs, controlling them and reading their progress.
package translation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
)

// Service handles job business logic on behalf of request principals.
type Service struct {
	store       repository.JobStore
	corrections repository.CorrectionStore
	sched       *jobs.Scheduler
	query       *jobs.Query
	auth        Authorizer
	logger      *slog.Logger

	uploadDir      string
	maxUploadBytes int64
	// serverRoots confine Upload.Path for system principals. Empty allows any path.
	serverRoots []string

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithAuthorizer replaces the default OwnerAuthorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) {
		if a != nil {
			s.auth = a
		}
	}
}

// WithUploads sets where uploaded content is stored and how large it may be.
func WithUploads(dir string, maxBytes int64) Option {
	return func(s *Service) {
		s.uploadDir = dir
		s.maxUploadBytes = maxBytes
	}
}

// WithServerPaths confines server-side upload paths to the given directories.
// Only system principals (the inbox) may pass a path at all.
func WithServerPaths(roots ...string) Option {
	return func(s *Service) {
		for _, r := range roots {
			if strings.TrimSpace(r) == "" {
				continue
			}
			if abs, err := filepath.Abs(r); err == nil {
				s.serverRoots = append(s.serverRoots, abs)
			}
		}
	}
}

// WithCorrections sets the correction store. By default the job store is used
// when it also keeps corrections.
func WithCorrections(c repository.CorrectionStore) Option {
	return func(s *Service) {
		s.corrections = c
	}
}

// WithIDGenerator replaces uuid job ids, mostly for tests.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) {
		if f != nil {
			s.newID = f
		}
	}
}

// NewService creates a new translation service.
func NewService(store repository.JobStore, sched *jobs.Scheduler, query *jobs.Query, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:          store,
		sched:          sched,
		query:          query,
		auth:           OwnerAuthorizer{},
		logger:         logger,
		uploadDir:      filepath.Join(os.TempDir(), "doctranslate-uploads"),
		maxUploadBytes: 50 << 20,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          func() string { return uuid.New().String() },
	}
	if cs, ok := store.(repository.CorrectionStore); ok {
		s.corrections = cs
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartTranslationParams describes a translation job. Exactly one of Text,
// SourceJobID or Upload must be given.
type StartTranslationParams struct {
	SourceLanguage string `validate:"required,srclang"`
	TargetLanguage string `validate:"required,lang,nefield=SourceLanguage"`
	Text           string `validate:"required_without_all=SourceJobID Upload"`
	// SourceJobID is a completed OCR job whose text is translated.
	SourceJobID string
	Upload      *Upload
}

// Upload is a document to run OCR on: raw content that is stored under the
// upload directory, or, for system principals only, a path already on the server.
type Upload struct {
	Path     string
	FileName string
	Content  []byte
}

// StartTranslation creates a job for the given input and starts it.
func (s *Service) StartTranslation(ctx context.Context, req StartTranslationParams) (entity.Snapshot, error) {
	p, err := principal(ctx)
	if err != nil {
		return entity.Snapshot{}, err
	}
	if err := common.ValidateStruct(req); err != nil {
		return entity.Snapshot{}, err
	}
	given := 0
	for _, set := range []bool{strings.TrimSpace(req.Text) != "", req.SourceJobID != "", req.Upload != nil} {
		if set {
			given++
		}
	}
	if given != 1 {
		return entity.Snapshot{}, common.NewAppError(common.CodeValidation, "exactly one of text, source_job_id or upload is required", common.ErrValidation)
	}

	job := s.newJob(p, req.SourceLanguage, req.TargetLanguage)
	switch {
	case req.Upload != nil:
		job.StagesPlan = []constants.StageKind{constants.StageOCR, constants.StageTranslate}
		if job.Input, err = s.resolveUpload(p, job.ID, req.Upload); err != nil {
			return entity.Snapshot{}, err
		}
	case req.SourceJobID != "":
		text, err := s.ocrText(ctx, p, req.SourceJobID)
		if err != nil {
			return entity.Snapshot{}, err
		}
		job.StagesPlan = []constants.StageKind{constants.StageTranslate}
		job.Input = entity.JobInput{Text: text, SourceJobID: req.SourceJobID}
	default:
		job.StagesPlan = []constants.StageKind{constants.StageTranslate}
		job.Input = entity.JobInput{Text: req.Text}
	}
	return s.createAndStart(ctx, job)
}

// UploadOCRParams describes an OCR job, optionally chained into translation.
type UploadOCRParams struct {
	Upload         Upload
	SourceLanguage string `validate:"required,srclang"`
	TargetLanguage string `validate:"omitempty,lang"`
	AutoTranslate  bool
}

// UploadOCR creates a job whose plan begins with OCR and starts it.
func (s *Service) UploadOCR(ctx context.Context, req UploadOCRParams) (entity.Snapshot, error) {
	p, err := principal(ctx)
	if err != nil {
		return entity.Snapshot{}, err
	}
	if err := common.ValidateStruct(req); err != nil {
		return entity.Snapshot{}, err
	}
	if req.AutoTranslate && req.TargetLanguage == "" {
		return entity.Snapshot{}, common.NewAppError(common.CodeValidation, "TargetLanguage is required when auto_translate is set", common.ErrValidation)
	}
	if req.AutoTranslate && req.TargetLanguage == req.SourceLanguage {
		return entity.Snapshot{}, common.NewAppError(common.CodeValidation, "TargetLanguage must differ from SourceLanguage", common.ErrValidation)
	}

	job := s.newJob(p, req.SourceLanguage, req.TargetLanguage)
	job.StagesPlan = []constants.StageKind{constants.StageOCR}
	if req.AutoTranslate {
		job.StagesPlan = append(job.StagesPlan, constants.StageTranslate)
	}
	if job.Input, err = s.resolveUpload(p, job.ID, &req.Upload); err != nil {
		return entity.Snapshot{}, err
	}
	return s.createAndStart(ctx, job)
}

// GetProgress returns the latest committed snapshot.
func (s *Service) GetProgress(ctx context.Context, id string) (entity.Snapshot, error) {
	job, err := s.authorized(ctx, id)
	if err != nil {
		return entity.Snapshot{}, err
	}
	return job.Snapshot(), nil
}

// GetResult returns the stage outputs of a completed job, NotReady otherwise.
func (s *Service) GetResult(ctx context.Context, id string) (entity.Result, error) {
	if _, err := s.authorized(ctx, id); err != nil {
		return entity.Result{}, err
	}
	return s.query.Result(ctx, id)
}

// StartJob starts a created job or restarts a stopped one from its last checkpoint.
func (s *Service) StartJob(ctx context.Context, id string) (entity.Snapshot, error) {
	return s.control(ctx, id, "start", s.sched.Start)
}

func (s *Service) PauseTranslation(ctx context.Context, id string) (entity.Snapshot, error) {
	return s.control(ctx, id, "pause", s.sched.Pause)
}

func (s *Service) ResumeTranslation(ctx context.Context, id string) (entity.Snapshot, error) {
	return s.control(ctx, id, "resume", s.sched.Resume)
}

func (s *Service) StopTranslation(ctx context.Context, id string) (entity.Snapshot, error) {
	return s.control(ctx, id, "stop", s.sched.Stop)
}

// DeleteJob removes a job that has no live worker. Stored uploads go with it.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	job, err := s.authorized(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sched.Delete(ctx, id); err != nil {
		return err
	}
	if path := job.Input.FilePath; path != "" && s.ownsUpload(path) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("translation.delete.upload_remove_failed", "job_id", id, "path", path, "error", err)
		}
	}
	s.logger.Info("translation.delete", "job_id", id)
	return nil
}

// ListEvents returns the job's recorded transitions after seq.
func (s *Service) ListEvents(ctx context.Context, id string, seq int64) ([]jobs.Record, error) {
	if _, err := s.authorized(ctx, id); err != nil {
		return nil, err
	}
	return s.query.Events(id, seq), nil
}

func (s *Service) control(ctx context.Context, id, op string, fn func(context.Context, string) (*entity.Job, error)) (entity.Snapshot, error) {
	if _, err := s.authorized(ctx, id); err != nil {
		return entity.Snapshot{}, err
	}
	job, err := fn(ctx, id)
	if err != nil {
		s.logger.Info("translation.control.rejected", "job_id", id, "op", op, "error", err)
		return entity.Snapshot{}, err
	}
	s.logger.Info("translation.control", "job_id", id, "op", op, "state", job.State, "version", job.Version)
	return job.Snapshot(), nil
}

func (s *Service) authorized(ctx context.Context, id string) (*entity.Job, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, common.NewAppError(common.CodeValidation, "job id is required", common.ErrInvalidInput)
	}
	job, err := s.query.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Authorize(ctx, p, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) newJob(p common.Principal, source, target string) *entity.Job {
	now := s.now()
	return &entity.Job{
		ID:             s.newID(),
		OwnerID:        p.UserID,
		SourceLanguage: source,
		TargetLanguage: target,
		State:          constants.JobStateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) createAndStart(ctx context.Context, job *entity.Job) (entity.Snapshot, error) {
	if err := s.store.Create(ctx, job); err != nil {
		return entity.Snapshot{}, err
	}
	s.logger.Info("translation.created", "job_id", job.ID, "owner_id", job.OwnerID, "plan", job.StagesPlan,
		"source", job.SourceLanguage, "target", job.TargetLanguage)

	started, err := s.sched.Start(ctx, job.ID)
	if err != nil {
		// the record stays CREATED and can be started again with StartJob
		s.logger.Error("translation.start_failed", "job_id", job.ID, "error", err)
		return job.Snapshot(), err
	}
	return started.Snapshot(), nil
}

// ocrText returns the OCR output of a completed job the caller may read.
func (s *Service) ocrText(ctx context.Context, p common.Principal, id string) (string, error) {
	src, err := s.query.Job(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.auth.Authorize(ctx, p, src); err != nil {
		return "", err
	}
	if src.State != constants.JobStateCompleted {
		return "", common.NotReady(src.ID, src.State.String())
	}
	for i := len(src.Results) - 1; i >= 0; i-- {
		if src.Results[i].Kind == constants.StageOCR {
			return src.Results[i].Output, nil
		}
	}
	return "", common.NewAppError(common.CodeValidation, fmt.Sprintf("job %s has no OCR result", id), common.ErrInvalidInput)
}

func (s *Service) resolveUpload(p common.Principal, jobID string, up *Upload) (entity.JobInput, error) {
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	if len(up.Content) > 0 {
		return s.storeUpload(jobID, name, up.Content)
	}

	path := strings.TrimSpace(up.Path)
	if path == "" {
		return entity.JobInput{}, common.NewAppError(common.CodeValidation, "upload path or content is required", common.ErrValidation)
	}
	if !p.System {
		s.logger.Warn("translation.upload.path_rejected", "user_id", p.UserID, "path", path)
		return entity.JobInput{}, common.NewAppError(common.CodeValidation, "server paths are not accepted; send the file content", common.ErrInvalidInput)
	}
	path, err := filepath.Abs(path)
	if err != nil || !s.underServerRoot(path) {
		s.logger.Warn("translation.upload.path_outside_roots", "path", up.Path, "roots", s.serverRoots)
		return entity.JobInput{}, common.NewAppError(common.CodeValidation, fmt.Sprintf("path %q is outside the ingest directories", up.Path), common.ErrInvalidInput)
	}
	if !constants.IsAllowedExt(filepath.Ext(path)) {
		return entity.JobInput{}, common.NewAppError(common.CodeValidation, fmt.Sprintf("unsupported extension: %q", filepath.Ext(path)), common.ErrInvalidInput)
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return entity.JobInput{}, common.NotFound("upload", path)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return entity.JobInput{FilePath: path, FileName: name}, nil
}

func (s *Service) underServerRoot(path string) bool {
	if len(s.serverRoots) == 0 {
		return true
	}
	for _, root := range s.serverRoots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func (s *Service) storeUpload(jobID, name string, content []byte) (entity.JobInput, error) {
	if name == "" {
		return entity.JobInput{}, common.NewAppError(common.CodeValidation, "file name is required with upload content", common.ErrValidation)
	}
	if !constants.IsAllowedExt(filepath.Ext(name)) {
		return entity.JobInput{}, common.NewAppError(common.CodeValidation, fmt.Sprintf("unsupported extension: %q", filepath.Ext(name)), common.ErrInvalidInput)
	}
	if s.maxUploadBytes > 0 && int64(len(content)) > s.maxUploadBytes {
		return entity.JobInput{}, common.NewAppError(common.CodeValidation,
			fmt.Sprintf("upload is %d bytes, limit is %d", len(content), s.maxUploadBytes), common.ErrInvalidInput)
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return entity.JobInput{}, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, jobID+"-"+name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return entity.JobInput{}, fmt.Errorf("store upload: %w", err)
	}
	s.logger.Info("translation.upload_stored", "job_id", jobID, "path", path, "bytes", len(content))
	return entity.JobInput{FilePath: path, FileName: name}, nil
}

func (s *Service) ownsUpload(path string) bool {
	return within(s.uploadDir, path)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
