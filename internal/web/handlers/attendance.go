package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	log "github.com/sirupsen/logrus"
)

// AttendanceHandler handles recognition and attendance endpoints
type AttendanceHandler struct {
	opts     attendance.Options
	embedder FaceEmbedder
}

// NewAttendanceHandler creates a new attendance handler.
// emb may be nil, in which case photo uploads are rejected.
func NewAttendanceHandler(opts attendance.Options, emb FaceEmbedder) *AttendanceHandler {
	return &AttendanceHandler{opts: opts, embedder: emb}
}

type embeddingRequest struct {
	Embedding []float32 `json:"embedding"`
}

type markRequest struct {
	StudentID int64  `json:"student_id"`
	Action    string `json:"action"`
}

type matchResponse struct {
	Matched    bool     `json:"matched"`
	StudentID  int64    `json:"student_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	RollNumber string   `json:"roll_number,omitempty"`
	Confidence float64  `json:"confidence"`
	Distance   *float64 `json:"distance,omitempty"`
	Threshold  float64  `json:"threshold"`
}

type recordResponse struct {
	ID          int64      `json:"id"`
	StudentID   int64      `json:"student_id"`
	StudentName string     `json:"student_name,omitempty"`
	RollNumber  string     `json:"roll_number,omitempty"`
	Date        string     `json:"date"`
	TimeIn      *time.Time `json:"time_in"`
	TimeOut     *time.Time `json:"time_out"`
	MarkedBy    string     `json:"marked_by,omitempty"`
}

type outcomeResponse struct {
	Success bool            `json:"success"`
	Reason  string          `json:"reason"`
	Message string          `json:"message"`
	State   string          `json:"state"`
	Record  *recordResponse `json:"record,omitempty"`
}

type recognizeAndMarkResponse struct {
	AttemptID  string           `json:"attempt_id"`
	Success    bool             `json:"success"`
	Reason     string           `json:"reason,omitempty"`
	Message    string           `json:"message"`
	Match      matchResponse    `json:"match"`
	Attendance *outcomeResponse `json:"attendance,omitempty"`
}

func toMatchResponse(m recognition.MatchResult, threshold float64) matchResponse {
	resp := matchResponse{
		Matched:    m.Matched,
		Confidence: m.Confidence,
		Threshold:  threshold,
	}
	if !math.IsInf(m.Distance, 0) && !math.IsNaN(m.Distance) {
		d := m.Distance
		resp.Distance = &d
	}
	if m.Candidate != nil {
		resp.StudentID = m.Candidate.StudentID
		resp.Name = m.Candidate.Name
		resp.RollNumber = m.Candidate.RollNumber
	}
	return resp
}

func toRecordResponse(r *database.AttendanceRecord) *recordResponse {
	if r == nil {
		return nil
	}
	return &recordResponse{
		ID:          r.ID,
		StudentID:   r.StudentID,
		StudentName: r.StudentName,
		RollNumber:  r.RollNumber,
		Date:        r.Date,
		TimeIn:      r.TimeIn,
		TimeOut:     r.TimeOut,
		MarkedBy:    r.MarkedBy,
	}
}

func toOutcomeResponse(o *attendance.Outcome) *outcomeResponse {
	if o == nil {
		return nil
	}
	return &outcomeResponse{
		Success: o.Success,
		Reason:  string(o.Reason),
		Message: o.Message,
		State:   string(o.State),
		Record:  toRecordResponse(o.Record),
	}
}

// probe extracts the probe embedding from a JSON body or an uploaded photo.
// On failure it writes the error response and returns false.
func (h *AttendanceHandler) probe(w http.ResponseWriter, r *http.Request) ([]float32, bool) {
	if !isMultipart(r) {
		var req embeddingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return nil, false
		}
		if len(req.Embedding) == 0 {
			respondError(w, http.StatusBadRequest, "embedding is required")
			return nil, false
		}
		return req.Embedding, true
	}

	if h.embedder == nil {
		respondError(w, http.StatusServiceUnavailable, "embedding server not configured")
		return nil, false
	}
	data, err := readPhoto(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	face, err := h.embedder.Embed(r.Context(), data)
	if errors.Is(err, embedder.ErrNoFace) {
		respondError(w, http.StatusUnprocessableEntity, "no face detected")
		return nil, false
	}
	if err != nil {
		log.WithError(err).Error("Embedding server request failed")
		respondError(w, http.StatusBadGateway, "failed to compute face embedding")
		return nil, false
	}
	return face.Embedding, true
}

func (h *AttendanceHandler) service(ctx context.Context, w http.ResponseWriter) (*attendance.Service, bool) {
	svc, err := newService(ctx, h.opts)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, errDatabaseUnavailable)
		return nil, false
	}
	return svc, true
}

// Recognize matches a probe without marking attendance.
func (h *AttendanceHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}
	raw, ok := h.probe(w, r)
	if !ok {
		return
	}

	match, err := svc.Recognize(r.Context(), raw)
	if err != nil {
		log.WithError(err).Error("Recognition failed")
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}
	respondJSON(w, http.StatusOK, toMatchResponse(match, svc.Threshold()))
}

// RecognizeAndMark matches a probe and marks attendance for the matched student.
func (h *AttendanceHandler) RecognizeAndMark(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}
	raw, ok := h.probe(w, r)
	if !ok {
		return
	}

	result, err := svc.RecognizeAndMark(r.Context(), raw)
	if err != nil {
		log.WithError(err).Error("Attendance attempt failed")
		respondError(w, http.StatusInternalServerError, "attendance attempt failed")
		return
	}

	resp := recognizeAndMarkResponse{
		AttemptID:  result.AttemptID,
		Match:      toMatchResponse(result.Match, svc.Threshold()),
		Attendance: toOutcomeResponse(result.Attendance),
	}
	if result.Attendance != nil {
		resp.Success = result.Attendance.Success
		resp.Reason = string(result.Attendance.Reason)
		resp.Message = result.Attendance.Message
	} else {
		resp.Reason = "not_recognized"
		resp.Message = "Face not recognized. Confidence: " + strconv.FormatFloat(result.Match.Confidence, 'f', 2, 64)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Mark marks attendance for a student chosen by an operator.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	var req markRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID <= 0 {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	action, err := attendance.ParseAction(req.Action)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := svc.MarkManual(r.Context(), req.StudentID, action)
	if err != nil {
		log.WithError(err).WithField("student_id", req.StudentID).Error("Manual mark failed")
		respondError(w, http.StatusInternalServerError, "failed to mark attendance")
		return
	}
	respondJSON(w, http.StatusOK, toOutcomeResponse(outcome))
}

// List returns attendance records filtered by ?from=&to=&student_id=.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := database.RecordFilter{
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	for _, d := range []string{filter.From, filter.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(database.DateLayout, d); err != nil {
			respondError(w, http.StatusBadRequest, "invalid date "+sanitizeForLog(d)+", want YYYY-MM-DD")
			return
		}
	}
	if s := q.Get("student_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid student_id")
			return
		}
		filter.StudentID = id
	}

	records, err := svc.Records(r.Context(), filter)
	if err != nil {
		log.WithError(err).Error("Listing attendance failed")
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}

	resp := make([]*recordResponse, 0, len(records))
	for i := range records {
		resp = append(resp, toRecordResponse(&records[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Today returns today's attendance summary.
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}
	stats, err := svc.TodayStats(r.Context())
	if err != nil {
		log.WithError(err).Error("Computing today's stats failed")
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
