package attendance

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"classtrack/internal/model"
)

// Store is the persistence surface the service needs.
type Store interface {
	FindForDay(ctx context.Context, studentID int, courseID primitive.ObjectID, day time.Time) (*model.AttendanceRecord, error)
	Insert(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	ForDate(ctx context.Context, courseID primitive.ObjectID, day time.Time) ([]model.AttendanceRecord, error)
	CountForStudent(ctx context.Context, studentID int, courseID primitive.ObjectID) (total, present int64, err error)
}

// Service coordinates attendance marking and rate queries.
type Service struct {
	store Store
}

// NewService creates a service backed by a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Mark records a student present for the calendar day containing at. Marking
// is idempotent: a second call for the same (student, course, day) returns
// the existing record and created=false.
func (s *Service) Mark(ctx context.Context, studentID int, courseID primitive.ObjectID, studentName string, at time.Time, status model.AttendanceStatus) (model.AttendanceRecord, bool, error) {
	day := model.StartOfDay(at)

	existing, err := s.store.FindForDay(ctx, studentID, courseID, day)
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	if status == "" {
		status = model.StatusPresent
	}
	rec := model.AttendanceRecord{
		StudentID:   studentID,
		CourseID:    courseID,
		Date:        day,
		Status:      status,
		Timestamp:   time.Now().UTC(),
		StudentName: studentName,
	}
	rec, err = s.store.Insert(ctx, rec)
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	return rec, true, nil
}

// CreditedToday returns the set of student numbers already marked for the
// day containing at. The session controller seeds its credited set from this
// so restarting a session never double-marks.
func (s *Service) CreditedToday(ctx context.Context, courseID primitive.ObjectID, at time.Time) (map[int]bool, error) {
	recs, err := s.store.ForDate(ctx, courseID, at)
	if err != nil {
		return nil, err
	}
	credited := make(map[int]bool, len(recs))
	for _, r := range recs {
		credited[r.StudentID] = true
	}
	return credited, nil
}

// Rate summarizes a student's attendance in a course.
type Rate struct {
	Rate        float64 `json:"rate"`
	TotalDays   int64   `json:"total_days"`
	DaysPresent int64   `json:"days_present"`
}

// StudentRate computes present/total as a percentage; zero records yields a
// zero rate rather than an error.
func (s *Service) StudentRate(ctx context.Context, studentID int, courseID primitive.ObjectID) (Rate, error) {
	total, present, err := s.store.CountForStudent(ctx, studentID, courseID)
	if err != nil {
		return Rate{}, err
	}
	r := Rate{TotalDays: total, DaysPresent: present}
	if total > 0 {
		r.Rate = float64(present) / float64(total) * 100
	}
	return r, nil
}
