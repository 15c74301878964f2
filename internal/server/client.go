package server

import (
	"context"
	"encoding/base64"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

// Client calls translator.v1.JobService on behalf of one user.
type Client struct {
	conn   *grpc.ClientConn
	userID string
}

// Dial connects to addr without transport security.
func Dial(addr, userID string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, userID), nil
}

func NewClient(conn *grpc.ClientConn, userID string) *Client {
	return &Client{conn: conn, userID: userID}
}

func (c *Client) Close() error { return c.conn.Close() }

// TranslateRequest is the client side of StartTranslation. Set exactly one of
// Text, SourceJobID or FileName with Content.
type TranslateRequest struct {
	SourceLanguage string
	TargetLanguage string
	Text           string
	SourceJobID    string
	FileName       string
	Content        []byte
}

func (c *Client) StartTranslation(ctx context.Context, req TranslateRequest) (entity.Snapshot, error) {
	m := map[string]any{
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
	}
	setIf(m, "text", req.Text)
	setIf(m, "source_job_id", req.SourceJobID)
	setIf(m, "file_name", req.FileName)
	if len(req.Content) > 0 {
		m["content"] = base64.StdEncoding.EncodeToString(req.Content)
	}
	return c.snapshot(ctx, "StartTranslation", m)
}

// OCRRequest is the client side of UploadOCR.
type OCRRequest struct {
	FileName       string
	Content        []byte
	SourceLanguage string
	TargetLanguage string
	AutoTranslate  bool
}

func (c *Client) UploadOCR(ctx context.Context, req OCRRequest) (entity.Snapshot, error) {
	m := map[string]any{
		"source_language": req.SourceLanguage,
		"auto_translate":  req.AutoTranslate,
	}
	setIf(m, "target_language", req.TargetLanguage)
	setIf(m, "file_name", req.FileName)
	if len(req.Content) > 0 {
		m["content"] = base64.StdEncoding.EncodeToString(req.Content)
	}
	return c.snapshot(ctx, "UploadOCR", m)
}

func (c *Client) GetProgress(ctx context.Context, id string) (entity.Snapshot, error) {
	return c.snapshot(ctx, "GetProgress", map[string]any{"job_id": id})
}

func (c *Client) GetResult(ctx context.Context, id string) (entity.Result, error) {
	out, err := c.invoke(ctx, "GetResult", map[string]any{"job_id": id})
	if err != nil {
		return entity.Result{}, err
	}
	return PBToResult(out), nil
}

func (c *Client) StartJob(ctx context.Context, id string) (entity.Snapshot, error) {
	return c.snapshot(ctx, "StartJob", map[string]any{"job_id": id})
}

func (c *Client) Pause(ctx context.Context, id string) (entity.Snapshot, error) {
	return c.snapshot(ctx, "PauseTranslation", map[string]any{"job_id": id})
}

func (c *Client) Resume(ctx context.Context, id string) (entity.Snapshot, error) {
	return c.snapshot(ctx, "ResumeTranslation", map[string]any{"job_id": id})
}

func (c *Client) Stop(ctx context.Context, id string) (entity.Snapshot, error) {
	return c.snapshot(ctx, "StopTranslation", map[string]any{"job_id": id})
}

func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.invoke(ctx, "DeleteJob", map[string]any{"job_id": id})
	return err
}

func (c *Client) Events(ctx context.Context, id string, afterSeq int64) ([]jobs.Record, error) {
	out, err := c.invoke(ctx, "ListEvents", map[string]any{"job_id": id, "after_seq": afterSeq})
	if err != nil {
		return nil, err
	}
	return PBToEvents(out), nil
}

// ListJobsRequest pages through the caller's jobs. Zero values select the
// server defaults; Kind is OCR, TRANSLATE or empty.
type ListJobsRequest struct {
	Page     int
	PageSize int
	Kind     string
}

func (c *Client) ListJobs(ctx context.Context, req ListJobsRequest) (translation.JobPage, error) {
	m := map[string]any{"page": req.Page, "page_size": req.PageSize}
	setIf(m, "kind", req.Kind)
	out, err := c.invoke(ctx, "ListJobs", m)
	if err != nil {
		return translation.JobPage{}, err
	}
	return PBToJobPage(out), nil
}

// CorrectionRequest is the client side of AddCorrection.
type CorrectionRequest struct {
	SourceLanguage string
	TargetLanguage string
	SourceText     string
	Translation    string
	JobID          string
}

func (c *Client) AddCorrection(ctx context.Context, req CorrectionRequest) (entity.Correction, error) {
	m := map[string]any{
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
		"source_text":     req.SourceText,
		"translation":     req.Translation,
	}
	setIf(m, "job_id", req.JobID)
	out, err := c.invoke(ctx, "AddCorrection", m)
	if err != nil {
		return entity.Correction{}, err
	}
	return PBToCorrection(out), nil
}

func (c *Client) ListCorrections(ctx context.Context, source, target string, page, pageSize int) (translation.CorrectionPage, error) {
	m := map[string]any{"page": page, "page_size": pageSize}
	setIf(m, "source_language", source)
	setIf(m, "target_language", target)
	out, err := c.invoke(ctx, "ListCorrections", m)
	if err != nil {
		return translation.CorrectionPage{}, err
	}
	return PBToCorrectionPage(out), nil
}

func (c *Client) DeleteCorrection(ctx context.Context, id string) error {
	_, err := c.invoke(ctx, "DeleteCorrection", map[string]any{"correction_id": id})
	return err
}

func (c *Client) snapshot(ctx context.Context, method string, m map[string]any) (entity.Snapshot, error) {
	out, err := c.invoke(ctx, method, m)
	if err != nil {
		return entity.Snapshot{}, err
	}
	return PBToSnapshot(out), nil
}

func (c *Client) invoke(ctx context.Context, method string, m map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	if c.userID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, MetadataUserID, c.userID)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func setIf(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}
