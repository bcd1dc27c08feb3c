package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	log "github.com/sirupsen/logrus"
)

// StudentsHandler handles student enrolment endpoints
type StudentsHandler struct {
	opts attendance.Options
}

// NewStudentsHandler creates a new students handler
func NewStudentsHandler(opts attendance.Options) *StudentsHandler {
	return &StudentsHandler{opts: opts}
}

type studentResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	RollNumber     string    `json:"roll_number"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Course         string    `json:"course,omitempty"`
	IsActive       bool      `json:"is_active"`
	EmbeddingCount int       `json:"embedding_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type similarResponse struct {
	StudentID  int64   `json:"student_id"`
	Name       string  `json:"name"`
	RollNumber string  `json:"roll_number"`
	Similarity float64 `json:"similarity"`
}

type enrollRequest struct {
	Name       string      `json:"name"`
	RollNumber string      `json:"roll_number"`
	Email      string      `json:"email"`
	Phone      string      `json:"phone"`
	Course     string      `json:"course"`
	Embeddings [][]float32 `json:"embeddings"`
}

type enrollResponse struct {
	Student    studentResponse   `json:"student"`
	LookAlikes []similarResponse `json:"look_alikes"`
}

type addEmbeddingsRequest struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func toStudentResponse(s *database.Student) studentResponse {
	return studentResponse{
		ID:             s.ID,
		Name:           s.Name,
		RollNumber:     s.RollNumber,
		Email:          s.Email,
		Phone:          s.Phone,
		Course:         s.Course,
		IsActive:       s.IsActive,
		EmbeddingCount: s.EmbeddingCount,
		CreatedAt:      s.CreatedAt,
	}
}

func toSimilarResponses(similar []attendance.SimilarStudent) []similarResponse {
	resp := make([]similarResponse, 0, len(similar))
	for _, s := range similar {
		resp = append(resp, similarResponse(s))
	}
	return resp
}

func (h *StudentsHandler) service(ctx context.Context, w http.ResponseWriter) (*attendance.Service, bool) {
	svc, err := newService(ctx, h.opts)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, errDatabaseUnavailable)
		return nil, false
	}
	return svc, true
}

// respondEnrolmentError maps enrolment errors to HTTP responses.
func respondEnrolmentError(w http.ResponseWriter, err error) {
	var quality *recognition.QualityError
	switch {
	case errors.As(err, &quality),
		errors.Is(err, attendance.ErrNoEmbeddings),
		errors.Is(err, attendance.ErrMissingIdentity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, attendance.ErrStudentExists):
		respondError(w, http.StatusConflict, "student with this roll number or email already exists")
	case errors.Is(err, attendance.ErrStudentNotFound):
		respondError(w, http.StatusNotFound, "student not found")
	default:
		log.WithError(err).Error("Enrolment failed")
		respondError(w, http.StatusInternalServerError, "enrolment failed")
	}
}

// List returns students. ?q= searches by name or roll number,
// ?include_inactive=true also returns deactivated students.
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	var (
		students []database.Student
		err      error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		students, err = svc.Search(r.Context(), q)
	} else {
		includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
		students, err = svc.Students(r.Context(), includeInactive)
	}
	if err != nil {
		log.WithError(err).Error("Listing students failed")
		respondError(w, http.StatusInternalServerError, "failed to list students")
		return
	}

	resp := make([]studentResponse, 0, len(students))
	for i := range students {
		resp = append(resp, toStudentResponse(&students[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create enrols a new student with face embeddings.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Embeddings) > constants.MaxEnrolmentEmbeddings {
		respondError(w, http.StatusBadRequest, "too many embeddings, max "+strconv.Itoa(constants.MaxEnrolmentEmbeddings))
		return
	}

	result, err := svc.Enroll(r.Context(), attendance.EnrollRequest{
		Name:       req.Name,
		RollNumber: req.RollNumber,
		Email:      req.Email,
		Phone:      req.Phone,
		Course:     req.Course,
		Embeddings: req.Embeddings,
	})
	if err != nil {
		respondEnrolmentError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, enrollResponse{
		Student:    toStudentResponse(result.Student),
		LookAlikes: toSimilarResponses(result.LookAlikes),
	})
}

// AddEmbeddings appends face embeddings to an existing student.
func (h *StudentsHandler) AddEmbeddings(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	var req addEmbeddingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Embeddings) > constants.MaxEnrolmentEmbeddings {
		respondError(w, http.StatusBadRequest, "too many embeddings, max "+strconv.Itoa(constants.MaxEnrolmentEmbeddings))
		return
	}

	added, err := svc.AddEmbeddings(r.Context(), id, req.Embeddings)
	if err != nil {
		respondEnrolmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"added": added})
}

// Delete deactivates a student.
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	if err := svc.RemoveStudent(r.Context(), id); err != nil {
		respondEnrolmentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Similar returns enrolled students whose faces resemble the given student's.
func (h *StudentsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := constants.DefaultSimilarLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	svc, ok := h.service(r.Context(), w)
	if !ok {
		return
	}

	similar, err := svc.Similar(r.Context(), id, limit)
	if err != nil {
		respondEnrolmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSimilarResponses(similar))
}
