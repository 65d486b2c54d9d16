package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

type handler struct {
	svc Service
	log logrus.FieldLogger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.Jobs(r.Context())
	if err != nil {
		JSON(w, http.StatusServiceUnavailable, ErrorResponse(err.Error()))
		return
	}
	JSON(w, http.StatusOK, OKResponse(map[string]int{"jobs": len(jobs)}))
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	id, err := h.svc.Submit(r.Context(), req.spec())
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+string(id))
	JSON(w, http.StatusAccepted, OKResponse(map[string]string{"id": string(id)}))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.Jobs(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]JobResponse, len(jobs))
	for i, st := range jobs {
		out[i] = newJobResponse(st, false)
	}
	JSON(w, http.StatusOK, OKResponse(out))
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), xfertypes.JobID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(newJobResponse(st, true)))
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), xfertypes.JobID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// events streams progress as server-sent events named after the job state.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		JSON(w, http.StatusInternalServerError, ErrorResponse("streaming unsupported"))
		return
	}

	sub := h.svc.Subscribe(xfertypes.JobID(r.URL.Query().Get("job")))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(newEventResponse(ev))
			if err != nil {
				h.log.WithError(err).Warn("failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.State, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// batch expands a directory or prefix into jobs. When submission stops part
// way the error response still carries the IDs already queued.
func (h *handler) batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	var (
		ids []xfertypes.JobID
		err error
	)
	remote := xfertypes.Object{Bucket: req.Bucket, Key: req.Prefix}
	switch xfertypes.Kind(req.Kind) {
	case xfertypes.KindUpload:
		ids, err = h.svc.UploadDir(r.Context(), req.LocalPath, remote, req.options())
	case xfertypes.KindDownload:
		ids, err = h.svc.DownloadPrefix(r.Context(), remote, req.LocalPath, req.options())
	default:
		JSON(w, http.StatusBadRequest, ErrorResponse(fmt.Sprintf("unknown kind %q", req.Kind)))
		return
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	if err != nil {
		resp := ErrorResponse(err.Error())
		if len(out) > 0 {
			resp.Data = map[string][]string{"ids": out}
		}
		JSON(w, h.httpStatus(err), resp)
		return
	}
	JSON(w, http.StatusAccepted, OKResponse(map[string][]string{"ids": out}))
}

// fail maps manager errors onto HTTP statuses.
func (h *handler) fail(w http.ResponseWriter, err error) {
	JSON(w, h.httpStatus(err), ErrorResponse(err.Error()))
}

func (h *handler) httpStatus(err error) int {
	status := http.StatusInternalServerError
	switch {
	case errors.IsInvalidInput(err):
		status = http.StatusBadRequest
	case errors.IsJobNotFound(err):
		status = http.StatusNotFound
	case stderrors.Is(err, errors.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("API request failed")
	}
	return status
}
