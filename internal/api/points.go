package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/stream"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// SubmitResponse reports how many points a request delivered.
type SubmitResponse struct {
	Accepted int    `json:"accepted"`
	Mode     string `json:"mode"`
	ID       string `json:"id,omitempty"`
}

// SubmitFailure is returned when a multi-point request stops early.
type SubmitFailure struct {
	Error
	Accepted int `json:"accepted"`
	Index    int `json:"index"`
}

// PointRecord is a stored point as returned by the streams endpoints.
type PointRecord struct {
	ID            int64           `json:"id"`
	StreamID      string          `json:"stream_id"`
	StreamVersion int             `json:"stream_version"`
	Username      string          `json:"username,omitempty"`
	Metadata      json.RawMessage `json:"stream_metadata,omitempty"`
	Data          json.RawMessage `json:"stream_data"`
	CreatedAt     string          `json:"created_at"`
}

// successStatus is 201 when the point is already stored, 202 otherwise.
func (s *Server) successStatus() int {
	if s.submitter.Mode() == config.DeliveryDirect {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

// handleSubmitPoints accepts one point envelope or a JSON array of them.
// Array elements are submitted in order; the first failure stops the
// request and reports how many were accepted before it.
func (s *Server) handleSubmitPoints(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeBadRequest(w, "request body is empty")
		return
	}

	var raws []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			writeBadRequest(w, "invalid JSON array: "+err.Error())
			return
		}
	} else {
		raws = []json.RawMessage{body}
	}

	for i, raw := range raws {
		p, err := stream.Decode(raw)
		if err == nil {
			err = s.submitter.Submit(r.Context(), p)
		}
		if err != nil {
			status, code := classifySubmitError(err)
			writeJSON(w, status, SubmitFailure{
				Error:    Error{Status: status, Code: code, Message: err.Error()},
				Accepted: i,
				Index:    i,
			})
			return
		}
	}

	writeJSON(w, s.successStatus(), SubmitResponse{
		Accepted: len(raws),
		Mode:     s.submitter.Mode(),
	})
}

// handleSubmitData wraps a bare data object in a point for the stream in
// the path. Metadata is generated with a fresh id and the current time.
func (s *Server) handleSubmitData(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeBadRequest(w, "stream version must be an integer")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}

	b := stream.NewBuilder(streamID, version).
		SetData(string(bytes.TrimSpace(data))).
		WithNewID().
		Now()
	if err := s.submitter.Submit(r.Context(), b.Build()); err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, s.successStatus(), SubmitResponse{
		Accepted: 1,
		Mode:     s.submitter.Mode(),
		ID:       b.ID(),
	})
}

// handleStreamCounts returns the number of stored points per stream version.
func (s *Server) handleStreamCounts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeNotFound(w, "local store not configured")
		return
	}
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uri":    stream.CountsURI(),
		"counts": counts,
	})
}

// handleRecentPoints returns the newest stored points of one stream.
func (s *Server) handleRecentPoints(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeNotFound(w, "local store not configured")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRecentLimit {
			writeBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxRecentLimit))
			return
		}
		limit = n
	}

	records, err := s.store.Recent(r.Context(), chi.URLParam(r, "streamID"), limit)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	out := make([]PointRecord, 0, len(records))
	for _, rec := range records {
		pr := PointRecord{
			ID:            rec.ID,
			StreamID:      rec.Point.StreamID,
			StreamVersion: rec.Point.StreamVersion,
			Username:      rec.Username,
			Data:          json.RawMessage(rec.Point.Data),
			CreatedAt:     rec.CreatedAt.UTC().Format(stream.TimestampLayout),
		}
		if rec.Point.HasMetadata() {
			pr.Metadata = json.RawMessage(rec.Point.Metadata)
		}
		out = append(out, pr)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uri":    stream.StreamsURI(),
		"points": out,
	})
}

// handleWriterStats returns the connection writer snapshot.
func (s *Server) handleWriterStats(w http.ResponseWriter, _ *http.Request) {
	if s.writer == nil {
		writeNotFound(w, "connection writer not in use")
		return
	}
	writeJSON(w, http.StatusOK, s.writer.Stats())
}
