package server

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "translator.v1.JobService"

// JobServiceServer is the server API of translator.v1.JobService. Requests and
// responses are google.protobuf.Struct messages.
type JobServiceServer interface {
	StartTranslation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UploadOCR(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PauseTranslation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResumeTranslation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopTranslation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListJobs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddCorrection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCorrections(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteCorrection(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// JobServer adapts translation.Service to JobServiceServer.
type JobServer struct {
	svc    *translation.Service
	logger *slog.Logger
}

func NewJobServer(svc *translation.Service, logger *slog.Logger) *JobServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobServer{svc: svc, logger: logger}
}

// StartTranslation accepts one of text, source_job_id or an upload (file_name
// plus base64 content).
func (s *JobServer) StartTranslation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(req)
	params := translation.StartTranslationParams{
		SourceLanguage: r.str("source_language"),
		TargetLanguage: r.str("target_language"),
		Text:           r.fields["text"].GetStringValue(),
		SourceJobID:    r.str("source_job_id"),
	}
	up, err := uploadFrom(r)
	if err != nil {
		return nil, err
	}
	if len(up.Content) > 0 || up.FileName != "" {
		params.Upload = &up
	}
	snap, err := s.svc.StartTranslation(ctx, params)
	if err != nil {
		return nil, err
	}
	return SnapshotToPB(snap), nil
}

func (s *JobServer) UploadOCR(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(req)
	up, err := uploadFrom(r)
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.UploadOCR(ctx, translation.UploadOCRParams{
		Upload:         up,
		SourceLanguage: r.str("source_language"),
		TargetLanguage: r.str("target_language"),
		AutoTranslate:  r.boolean("auto_translate"),
	})
	if err != nil {
		return nil, err
	}
	return SnapshotToPB(snap), nil
}

func (s *JobServer) GetProgress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.svc.GetProgress(ctx, newRequest(req).str("job_id"))
	if err != nil {
		return nil, err
	}
	return SnapshotToPB(snap), nil
}

func (s *JobServer) GetResult(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.svc.GetResult(ctx, newRequest(req).str("job_id"))
	if err != nil {
		return nil, err
	}
	return ResultToPB(res), nil
}

func (s *JobServer) StartJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return snapshotOf(s.svc.StartJob(ctx, newRequest(req).str("job_id")))
}

func (s *JobServer) PauseTranslation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return snapshotOf(s.svc.PauseTranslation(ctx, newRequest(req).str("job_id")))
}

func (s *JobServer) ResumeTranslation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return snapshotOf(s.svc.ResumeTranslation(ctx, newRequest(req).str("job_id")))
}

func (s *JobServer) StopTranslation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return snapshotOf(s.svc.StopTranslation(ctx, newRequest(req).str("job_id")))
}

func (s *JobServer) DeleteJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := newRequest(req).str("job_id")
	if err := s.svc.DeleteJob(ctx, id); err != nil {
		return nil, err
	}
	return mustStruct(map[string]any{"job_id": id, "deleted": true}), nil
}

// ListEvents returns the job's events after after_seq (0 for all buffered events).
func (s *JobServer) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(req)
	var after int64
	if r.has("after_seq") {
		after = r.int64("after_seq")
	}
	recs, err := s.svc.ListEvents(ctx, r.str("job_id"), after)
	if err != nil {
		return nil, err
	}
	return EventsToPB(recs), nil
}

// ListJobs pages through the caller's jobs, newest first, optionally only
// those whose plan includes kind (OCR or TRANSLATE).
func (s *JobServer) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(req)
	page, err := s.svc.ListJobs(ctx, translation.ListJobsParams{
		Page:     int(r.int64("page")),
		PageSize: int(r.int64("page_size")),
		Kind:     r.str("kind"),
	})
	if err != nil {
		return nil, err
	}
	return JobPageToPB(page), nil
}

func (s *JobServer) AddCorrection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(req)
	c, err := s.svc.AddCorrection(ctx, translation.AddCorrectionParams{
		SourceLanguage: r.str("source_language"),
		TargetLanguage: r.str("target_language"),
		SourceText:     r.str("source_text"),
		Translation:    r.str("translation"),
		JobID:          r.str("job_id"),
	})
	if err != nil {
		return nil, err
	}
	return mustStruct(correctionMap(c)), nil
}

func (s *JobServer) ListCorrections(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(req)
	page, err := s.svc.ListCorrections(ctx, translation.ListCorrectionsParams{
		SourceLanguage: r.str("source_language"),
		TargetLanguage: r.str("target_language"),
		Page:           int(r.int64("page")),
		PageSize:       int(r.int64("page_size")),
	})
	if err != nil {
		return nil, err
	}
	return CorrectionPageToPB(page), nil
}

func (s *JobServer) DeleteCorrection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := newRequest(req).str("correction_id")
	if err := s.svc.DeleteCorrection(ctx, id); err != nil {
		return nil, err
	}
	return mustStruct(map[string]any{"correction_id": id, "deleted": true}), nil
}

func snapshotOf(snap entity.Snapshot, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	return SnapshotToPB(snap), nil
}

// uploadFrom reads file_name and content. Network callers cannot name files on
// the server host.
func uploadFrom(r request) (translation.Upload, error) {
	if r.has("upload_path") {
		return translation.Upload{}, common.NewAppError(common.CodeValidation,
			"upload_path is not accepted; send file_name and content", common.ErrInvalidInput)
	}
	content, err := r.bytes("content")
	if err != nil {
		return translation.Upload{}, err
	}
	return translation.Upload{
		FileName: r.str("file_name"),
		Content:  content,
	}, nil
}

// RegisterJobServiceServer registers srv under ServiceName.
func RegisterJobServiceServer(reg grpc.ServiceRegistrar, srv JobServiceServer) {
	reg.RegisterService(&JobServiceDesc, srv)
}

func unaryHandler(method string, call func(JobServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, common.InvalidArgumentErrorf("decode %s request: %v", method, err)
			}
			if interceptor == nil {
				return call(srv.(JobServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(JobServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// JobServiceDesc is the grpc.ServiceDesc for translator.v1.JobService.
var JobServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("StartTranslation", JobServiceServer.StartTranslation),
		unaryHandler("UploadOCR", JobServiceServer.UploadOCR),
		unaryHandler("GetProgress", JobServiceServer.GetProgress),
		unaryHandler("GetResult", JobServiceServer.GetResult),
		unaryHandler("StartJob", JobServiceServer.StartJob),
		unaryHandler("PauseTranslation", JobServiceServer.PauseTranslation),
		unaryHandler("ResumeTranslation", JobServiceServer.ResumeTranslation),
		unaryHandler("StopTranslation", JobServiceServer.StopTranslation),
		unaryHandler("DeleteJob", JobServiceServer.DeleteJob),
		unaryHandler("ListEvents", JobServiceServer.ListEvents),
		unaryHandler("ListJobs", JobServiceServer.ListJobs),
		unaryHandler("AddCorrection", JobServiceServer.AddCorrection),
		unaryHandler("ListCorrections", JobServiceServer.ListCorrections),
		unaryHandler("DeleteCorrection", JobServiceServer.DeleteCorrection),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "translator/v1/jobs.proto",
}
