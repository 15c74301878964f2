package server

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

func SnapshotToPB(s entity.Snapshot) *structpb.Struct {
	return mustStruct(snapshotMap(s))
}

func snapshotMap(s entity.Snapshot) map[string]any {
	plan := make([]any, 0, len(s.StagesPlan))
	for _, k := range s.StagesPlan {
		plan = append(plan, k.String())
	}
	m := map[string]any{
		"job_id":              s.JobID,
		"state":               s.State.String(),
		"run":                 s.Run,
		"stages_plan":         plan,
		"current_stage_index": s.CurrentStageIndex,
		"current_stage":       s.CurrentStage.String(),
		"progress":            s.Progress,
		"current":             s.Current,
		"total":               s.Total,
		"completed_stages":    s.CompletedStages,
		"version":             s.Version,
		"updated_at":          s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.Error != nil {
		m["error"] = map[string]any{"code": s.Error.Code, "message": s.Error.Message}
	}
	return m
}

// JobPageToPB lists job summaries: snapshot fields plus languages, file name and creation time.
func JobPageToPB(p translation.JobPage) *structpb.Struct {
	items := make([]any, 0, len(p.Items))
	for _, it := range p.Items {
		m := snapshotMap(it.Snapshot)
		m["source_language"] = it.SourceLanguage
		m["target_language"] = it.TargetLanguage
		m["file_name"] = it.FileName
		m["source_job_id"] = it.SourceJobID
		m["created_at"] = it.CreatedAt.UTC().Format(time.RFC3339Nano)
		items = append(items, m)
	}
	return mustStruct(map[string]any{"jobs": items, "total": p.Total, "page": p.Page, "page_size": p.PageSize})
}

func correctionMap(c entity.Correction) map[string]any {
	m := map[string]any{
		"correction_id":   c.ID,
		"owner_id":        c.OwnerID,
		"source_language": c.SourceLanguage,
		"target_language": c.TargetLanguage,
		"source_text":     c.SourceText,
		"translation":     c.Translation,
		"job_id":          c.JobID,
		"usage_count":     c.UsageCount,
		"created_at":      c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.LastUsedAt != nil {
		m["last_used_at"] = c.LastUsedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func CorrectionPageToPB(p translation.CorrectionPage) *structpb.Struct {
	items := make([]any, 0, len(p.Items))
	for _, c := range p.Items {
		items = append(items, correctionMap(c))
	}
	return mustStruct(map[string]any{"corrections": items, "total": p.Total, "page": p.Page, "page_size": p.PageSize})
}

func ResultToPB(r entity.Result) *structpb.Struct {
	stages := make([]any, 0, len(r.Stages))
	for _, st := range r.Stages {
		segs := make([]any, 0, len(st.Segments))
		for _, seg := range st.Segments {
			segs = append(segs, map[string]any{"source": seg.Source, "text": seg.Text})
		}
		stages = append(stages, map[string]any{
			"kind":     st.Kind.String(),
			"output":   st.Output,
			"segments": segs,
		})
	}
	return mustStruct(map[string]any{
		"job_id":          r.JobID,
		"source_language": r.SourceLanguage,
		"target_language": r.TargetLanguage,
		"stages":          stages,
	})
}

func EventsToPB(recs []jobs.Record) *structpb.Struct {
	events := make([]any, 0, len(recs))
	var last int64
	for _, r := range recs {
		events = append(events, map[string]any{
			"seq":         r.Seq,
			"job_id":      r.JobID,
			"event":       string(r.Event),
			"from":        r.From.String(),
			"to":          r.To.String(),
			"run":         r.Run,
			"stage_index": r.StageIndex,
			"progress":    r.Progress,
			"version":     r.Version,
			"at":          r.At.UTC().Format(time.RFC3339Nano),
		})
		last = r.Seq
	}
	return mustStruct(map[string]any{"events": events, "last_seq": last})
}

// mustStruct converts values built from strings, numbers, slices and maps only,
// which structpb always accepts.
func mustStruct(m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		panic(fmt.Sprintf("server: build struct: %v", err))
	}
	return s
}

// request wraps an incoming Struct with typed field accessors.
type request struct {
	fields map[string]*structpb.Value
}

func newRequest(s *structpb.Struct) request {
	if s == nil {
		return request{}
	}
	return request{fields: s.GetFields()}
}

func (r request) str(key string) string {
	return strings.TrimSpace(r.fields[key].GetStringValue())
}

func (r request) boolean(key string) bool {
	return r.fields[key].GetBoolValue()
}

func (r request) int64(key string) int64 {
	return int64(r.fields[key].GetNumberValue())
}

func (r request) has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// bytes decodes a base64 string field.
func (r request) bytes(key string) ([]byte, error) {
	raw := r.str(key)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, common.NewAppError(common.CodeValidation, key+" must be base64", common.ErrInvalidInput)
	}
	return b, nil
}

// PBToSnapshot reads back what SnapshotToPB wrote, for clients.
func PBToSnapshot(s *structpb.Struct) entity.Snapshot {
	r := newRequest(s)
	out := entity.Snapshot{
		JobID:             r.str("job_id"),
		Run:               int(r.int64("run")),
		CurrentStageIndex: int(r.int64("current_stage_index")),
		Progress:          int(r.int64("progress")),
		Current:           int(r.int64("current")),
		Total:             int(r.int64("total")),
		CompletedStages:   int(r.int64("completed_stages")),
		Version:           r.int64("version"),
	}
	out.State = constants.JobState(r.str("state"))
	out.CurrentStage = constants.StageKind(r.str("current_stage"))
	for _, v := range r.fields["stages_plan"].GetListValue().GetValues() {
		out.StagesPlan = append(out.StagesPlan, constants.StageKind(v.GetStringValue()))
	}
	if t, err := time.Parse(time.RFC3339Nano, r.str("updated_at")); err == nil {
		out.UpdatedAt = t
	}
	if e := r.fields["error"].GetStructValue(); e != nil {
		er := newRequest(e)
		out.Error = &entity.JobError{Code: er.str("code"), Message: er.str("message")}
	}
	return out
}

// PBToJobPage reads back what JobPageToPB wrote.
func PBToJobPage(s *structpb.Struct) translation.JobPage {
	r := newRequest(s)
	out := translation.JobPage{
		Total:    int(r.int64("total")),
		Page:     int(r.int64("page")),
		PageSize: int(r.int64("page_size")),
	}
	for _, v := range r.fields["jobs"].GetListValue().GetValues() {
		st := v.GetStructValue()
		jr := newRequest(st)
		sum := entity.Summary{
			Snapshot:       PBToSnapshot(st),
			SourceLanguage: jr.str("source_language"),
			TargetLanguage: jr.str("target_language"),
			FileName:       jr.str("file_name"),
			SourceJobID:    jr.str("source_job_id"),
		}
		sum.CreatedAt = parseTime(jr.str("created_at"))
		out.Items = append(out.Items, sum)
	}
	return out
}

// PBToCorrection reads back one correction.
func PBToCorrection(s *structpb.Struct) entity.Correction {
	r := newRequest(s)
	c := entity.Correction{
		ID:             r.str("correction_id"),
		OwnerID:        r.str("owner_id"),
		SourceLanguage: r.str("source_language"),
		TargetLanguage: r.str("target_language"),
		SourceText:     r.fields["source_text"].GetStringValue(),
		Translation:    r.fields["translation"].GetStringValue(),
		JobID:          r.str("job_id"),
		UsageCount:     int(r.int64("usage_count")),
		CreatedAt:      parseTime(r.str("created_at")),
	}
	if r.has("last_used_at") {
		t := parseTime(r.str("last_used_at"))
		c.LastUsedAt = &t
	}
	return c
}

// PBToCorrectionPage reads back what CorrectionPageToPB wrote.
func PBToCorrectionPage(s *structpb.Struct) translation.CorrectionPage {
	r := newRequest(s)
	out := translation.CorrectionPage{
		Total:    int(r.int64("total")),
		Page:     int(r.int64("page")),
		PageSize: int(r.int64("page_size")),
	}
	for _, v := range r.fields["corrections"].GetListValue().GetValues() {
		out.Items = append(out.Items, PBToCorrection(v.GetStructValue()))
	}
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// PBToResult reads back what ResultToPB wrote.
func PBToResult(s *structpb.Struct) entity.Result {
	r := newRequest(s)
	out := entity.Result{
		JobID:          r.str("job_id"),
		SourceLanguage: r.str("source_language"),
		TargetLanguage: r.str("target_language"),
	}
	for _, v := range r.fields["stages"].GetListValue().GetValues() {
		sr := newRequest(v.GetStructValue())
		st := entity.StageResult{Kind: constants.StageKind(sr.str("kind")), Output: sr.fields["output"].GetStringValue()}
		for _, sv := range sr.fields["segments"].GetListValue().GetValues() {
			seg := newRequest(sv.GetStructValue())
			st.Segments = append(st.Segments, entity.Segment{
				Source: seg.fields["source"].GetStringValue(),
				Text:   seg.fields["text"].GetStringValue(),
			})
		}
		out.Stages = append(out.Stages, st)
	}
	return out
}

// PBToEvents reads back what EventsToPB wrote.
func PBToEvents(s *structpb.Struct) []jobs.Record {
	r := newRequest(s)
	var out []jobs.Record
	for _, v := range r.fields["events"].GetListValue().GetValues() {
		e := newRequest(v.GetStructValue())
		rec := jobs.Record{Seq: e.int64("seq")}
		rec.JobID = e.str("job_id")
		rec.Event = jobs.EventKind(e.str("event"))
		rec.From = constants.JobState(e.str("from"))
		rec.To = constants.JobState(e.str("to"))
		rec.Run = int(e.int64("run"))
		rec.StageIndex = int(e.int64("stage_index"))
		rec.Progress = int(e.int64("progress"))
		rec.Version = e.int64("version")
		if t, err := time.Parse(time.RFC3339Nano, e.str("at")); err == nil {
			rec.At = t
		}
		out = append(out, rec)
	}
	return out
}
