// Package web serves the localhost control and analytics surface that
// stands in for the desktop UI.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"classtrack/internal/attendance"
	"classtrack/internal/bus"
	"classtrack/internal/engage"
	"classtrack/internal/model"
	"classtrack/internal/roster"
	"classtrack/internal/session"
	"classtrack/internal/store"
	"classtrack/internal/vision"
)

// Server exposes the tracker over HTTP.
type Server struct {
	roster     *roster.Repository
	attendance *attendance.Service
	attRepo    *attendance.Repository
	engagement *engage.Repository
	controller *session.Controller
	visionSvc  *vision.Client
	redis      *store.Redis

	mu     sync.Mutex
	recent []bus.Event
}

// recentEventCap bounds the in-memory event feed served to the UI.
const recentEventCap = 200

// NewServer wires the HTTP layer.
func NewServer(ros *roster.Repository, att *attendance.Service, attRepo *attendance.Repository, eng *engage.Repository, ctrl *session.Controller, visionSvc *vision.Client, redis *store.Redis) *Server {
	return &Server{
		roster:     ros,
		attendance: att,
		attRepo:    attRepo,
		engagement: eng,
		controller: ctrl,
		visionSvc:  visionSvc,
		redis:      redis,
	}
}

// WatchEvents consumes the session bus and keeps a bounded feed for the UI
// to poll. Run it in its own goroutine for the life of the process.
func (s *Server) WatchEvents(ctx context.Context, b bus.Bus) {
	events, err := b.Consume(ctx)
	if err != nil {
		return
	}
	for evt := range events {
		s.mu.Lock()
		s.recent = append(s.recent, evt)
		if len(s.recent) > recentEventCap {
			s.recent = s.recent[len(s.recent)-recentEventCap:]
		}
		s.mu.Unlock()
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	{
		v1.GET("/courses", s.listCourses)
		v1.POST("/courses", s.createCourse)
		v1.GET("/courses/:id", s.getCourse)
		v1.PUT("/courses/:id", s.updateCourse)
		v1.DELETE("/courses/:id", s.deleteCourse)

		v1.GET("/courses/:id/students", s.listStudents)
		v1.POST("/courses/:id/students", s.registerStudent)
		v1.PUT("/courses/:id/students/:sid/name", s.renameStudent)
		v1.DELETE("/courses/:id/students/:sid", s.removeStudent)

		v1.GET("/courses/:id/attendance", s.courseAttendance)
		v1.GET("/courses/:id/students/:sid/attendance-rate", s.attendanceRate)
		v1.GET("/courses/:id/students/:sid/questions", s.studentQuestions)
		v1.GET("/courses/:id/students/:sid/hand-raises", s.handRaiseCount)
		v1.GET("/courses/:id/questions", s.courseQuestions)
		v1.GET("/courses/:id/analytics", s.courseAnalytics)

		v1.POST("/courses/:id/session/start", s.startSession)
		v1.POST("/session/stop", s.stopSession)
		v1.GET("/session", s.sessionStatus)
		v1.GET("/events", s.listEvents)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	redisHealthy := s.redis.Healthy(c.Request.Context())
	visionHealthy := s.visionSvc.Health(c.Request.Context()) == nil
	if !redisHealthy || !visionHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":  "ok",
		"redis":   redisHealthy,
		"vision":  visionHealthy,
		"session": s.controller.State(),
	})
}

func (s *Server) listCourses(c *gin.Context) {
	if code := c.Query("code"); code != "" {
		course, err := s.roster.GetCourseByCode(c.Request.Context(), code)
		if err != nil {
			s.courseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"courses": []model.Course{course}})
		return
	}
	courses, err := s.roster.ListCourses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (s *Server) createCourse(c *gin.Context) {
	var req struct {
		CourseName  string `json:"course_name" binding:"required"`
		CourseCode  string `json:"course_code" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	course, err := s.roster.CreateCourse(c.Request.Context(), req.CourseName, req.CourseCode, req.Description)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, roster.ErrDuplicateCourseCode) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (s *Server) getCourse(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	course, err := s.roster.GetCourse(c.Request.Context(), id)
	if err != nil {
		s.courseError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (s *Server) updateCourse(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	var req struct {
		CourseName  string `json:"course_name"`
		CourseCode  string `json:"course_code"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.roster.UpdateCourse(c.Request.Context(), id, req.CourseName, req.CourseCode, req.Description)
	if err != nil {
		s.courseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) deleteCourse(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	if err := s.roster.DeleteCourse(c.Request.Context(), id); err != nil {
		if errors.Is(err, roster.ErrCourseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		// Partial cascades are reported but not rolled back.
		c.JSON(http.StatusOK, gin.H{"deleted": true, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) listStudents(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	students, err := s.roster.ListStudents(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// registerStudent runs the camera registration flow: scan for a single
// face, embed it, and store the student.
func (s *Server) registerStudent(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	course, err := s.roster.GetCourse(c.Request.Context(), id)
	if err != nil {
		s.courseError(c, err)
		return
	}
	student, err := s.controller.Register(c.Request.Context(), course, req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrRegistrationBusy):
			status = http.StatusConflict
		case errors.Is(err, session.ErrNoFaceDetected):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, student)
}

func (s *Server) renameStudent(c *gin.Context) {
	id, sid, ok := s.studentKey(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.roster.RenameStudent(c.Request.Context(), sid, id, req.Name); err != nil {
		if errors.Is(err, roster.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": true})
}

func (s *Server) removeStudent(c *gin.Context) {
	id, sid, ok := s.studentKey(c)
	if !ok {
		return
	}
	if err := s.roster.RemoveStudent(c.Request.Context(), sid, id); err != nil {
		if errors.Is(err, roster.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *Server) courseAttendance(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	day := time.Now()
	if v := c.Query("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	records, err := s.attRepo.ForDate(c.Request.Context(), id, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": model.StartOfDay(day), "records": records})
}

func (s *Server) attendanceRate(c *gin.Context) {
	id, sid, ok := s.studentKey(c)
	if !ok || !s.requireStudent(c, sid, id) {
		return
	}
	rate, err := s.attendance.StudentRate(c.Request.Context(), sid, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rate)
}

func (s *Server) studentQuestions(c *gin.Context) {
	id, sid, ok := s.studentKey(c)
	if !ok || !s.requireStudent(c, sid, id) {
		return
	}
	questions, err := s.engagement.StudentQuestions(c.Request.Context(), sid, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (s *Server) handRaiseCount(c *gin.Context) {
	id, sid, ok := s.studentKey(c)
	if !ok || !s.requireStudent(c, sid, id) {
		return
	}
	count, err := s.engagement.HandRaiseCount(c.Request.Context(), sid, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hand_raises": count})
}

func (s *Server) courseQuestions(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	questions, err := s.engagement.CourseQuestions(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (s *Server) courseAnalytics(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	analytics, err := s.engagement.Analytics(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func (s *Server) startSession(c *gin.Context) {
	id, ok := s.courseID(c)
	if !ok {
		return
	}
	course, err := s.roster.GetCourse(c.Request.Context(), id)
	if err != nil {
		s.courseError(c, err)
		return
	}
	if err := s.controller.Start(c.Request.Context(), course); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      s.controller.State(),
		"session_id": s.controller.SessionID(),
	})
}

func (s *Server) stopSession(c *gin.Context) {
	s.controller.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.controller.State()})
}

func (s *Server) sessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":             s.controller.State(),
		"session_id":        s.controller.SessionID(),
		"capture_in_flight": s.controller.CaptureInFlight(),
	})
}

func (s *Server) listEvents(c *gin.Context) {
	s.mu.Lock()
	events := make([]bus.Event, len(s.recent))
	copy(events, s.recent)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) courseID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func (s *Server) studentKey(c *gin.Context) (primitive.ObjectID, int, bool) {
	id, ok := s.courseID(c)
	if !ok {
		return primitive.NilObjectID, 0, false
	}
	sid, err := strconv.Atoi(c.Param("sid"))
	if err != nil || sid < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return primitive.NilObjectID, 0, false
	}
	return id, sid, true
}

// requireStudent answers 404 for queries against unregistered students.
func (s *Server) requireStudent(c *gin.Context, studentID int, courseID primitive.ObjectID) bool {
	if _, err := s.roster.GetStudent(c.Request.Context(), studentID, courseID); err != nil {
		if errors.Is(err, roster.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return false
	}
	return true
}

func (s *Server) courseError(c *gin.Context, err error) {
	if errors.Is(err, roster.ErrCourseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// CORS middleware for browser requests to the local UI.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
