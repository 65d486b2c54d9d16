package api

import (
	"encoding/json"
	"net/http"
	"time"

	transfer "github.com/input-output-hk/catalyst-forge-libs/aws/transfer"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// Response is the envelope of every JSON response.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OKResponse wraps a successful payload.
func OKResponse(data any) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

// ErrorResponse wraps an error message.
func ErrorResponse(msg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg}
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	Kind         string            `json:"kind"`
	LocalPath    string            `json:"local_path"`
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	Size         int64             `json:"size,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	StorageClass string            `json:"storage_class,omitempty"`
	PartSize     int64             `json:"part_size,omitempty"`
}

func (r SubmitRequest) spec() xfertypes.JobSpec {
	return xfertypes.JobSpec{
		Kind:         xfertypes.Kind(r.Kind),
		LocalPath:    r.LocalPath,
		Remote:       xfertypes.Object{Bucket: r.Bucket, Key: r.Key},
		Size:         r.Size,
		ContentType:  r.ContentType,
		Metadata:     r.Metadata,
		StorageClass: xfertypes.StorageClass(r.StorageClass),
		PartSize:     r.PartSize,
	}
}

// BatchRequest is the body of POST /batches. LocalPath is the directory to
// upload from or download into; Prefix selects the remote side.
type BatchRequest struct {
	Kind          string   `json:"kind"`
	LocalPath     string   `json:"local_path"`
	Bucket        string   `json:"bucket"`
	Prefix        string   `json:"prefix,omitempty"`
	Include       []string `json:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	SkipUnchanged bool     `json:"skip_unchanged,omitempty"`
	PartSize      int64    `json:"part_size,omitempty"`
	ContentType   string   `json:"content_type,omitempty"`
}

func (r BatchRequest) options() transfer.BatchOptions {
	return transfer.BatchOptions{
		Include:       r.Include,
		Exclude:       r.Exclude,
		SkipUnchanged: r.SkipUnchanged,
		PartSize:      r.PartSize,
		ContentType:   r.ContentType,
	}
}

// PartResponse describes one part of a job.
type PartResponse struct {
	Index    int    `json:"index"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Bytes    int64  `json:"bytes"`
	Error    string `json:"error,omitempty"`
}

// JobResponse describes a job.
type JobResponse struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	State       string         `json:"state"`
	TotalBytes  int64          `json:"total_bytes"`
	BytesDone   int64          `json:"bytes_done"`
	UploadID    string         `json:"upload_id,omitempty"`
	Parts       []PartResponse `json:"parts,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func newJobResponse(st xfertypes.JobStatus, withParts bool) JobResponse {
	out := JobResponse{
		ID:          string(st.ID),
		Kind:        string(st.Kind),
		Source:      st.Source,
		Destination: st.Destination,
		State:       string(st.State),
		TotalBytes:  st.TotalBytes,
		BytesDone:   st.BytesDone,
		UploadID:    st.UploadID,
		CreatedAt:   st.CreatedAt,
		Error:       errString(st.Err),
	}
	if !st.EndedAt.IsZero() {
		ended := st.EndedAt
		out.EndedAt = &ended
	}
	if withParts {
		out.Parts = make([]PartResponse, len(st.Parts))
		for i, p := range st.Parts {
			out.Parts[i] = PartResponse{
				Index:    p.Index,
				Start:    p.Start,
				End:      p.End,
				State:    string(p.State),
				Attempts: p.Attempts,
				Bytes:    p.Bytes,
				Error:    errString(p.LastErr),
			}
		}
	}
	return out
}

// EventResponse is the data of a server-sent progress event.
type EventResponse struct {
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	BytesDone  int64     `json:"bytes_done"`
	TotalBytes int64     `json:"total_bytes"`
	PartsDone  int       `json:"parts_done"`
	PartsTotal int       `json:"parts_total"`
	Percent    float64   `json:"percent"`
	Throughput float64   `json:"throughput"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

func newEventResponse(ev xfertypes.Event) EventResponse {
	return EventResponse{
		JobID:      string(ev.JobID),
		Kind:       string(ev.Kind),
		State:      string(ev.State),
		BytesDone:  ev.BytesDone,
		TotalBytes: ev.TotalBytes,
		PartsDone:  ev.PartsDone,
		PartsTotal: ev.PartsTotal,
		Percent:    ev.Percent,
		Throughput: ev.Throughput,
		Error:      errString(ev.Err),
		Time:       ev.Time,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
