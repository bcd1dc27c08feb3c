package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.version)
	attendanceHandler := handlers.NewAttendanceHandler(s.options, s.embedder)
	studentsHandler := handlers.NewStudentsHandler(s.options)

	s.router.Get("/api/v1/health", healthHandler.Check)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Recognition
		r.Post("/recognize", attendanceHandler.Recognize)

		// Attendance
		r.Get("/attendance", attendanceHandler.List)
		r.Get("/attendance/today", attendanceHandler.Today)
		r.Post("/attendance/recognize", attendanceHandler.RecognizeAndMark)
		r.Post("/attendance/mark", attendanceHandler.Mark)

		// Students
		r.Get("/students", studentsHandler.List)
		r.Post("/students", studentsHandler.Create)
		r.Delete("/students/{id}", studentsHandler.Delete)
		r.Post("/students/{id}/embeddings", studentsHandler.AddEmbeddings)
		r.Get("/students/{id}/similar", studentsHandler.Similar)
	})
}
