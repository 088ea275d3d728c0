package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AttendanceStatus is the recorded presence state for a day.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "Present"
	StatusAbsent  AttendanceStatus = "Absent"
	StatusExcused AttendanceStatus = "Excused"
)

// Course is a taught course. CourseCode is unique across the database.
type Course struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CourseName  string             `bson:"course_name" json:"course_name"`
	CourseCode  string             `bson:"course_code" json:"course_code"`
	Description string             `bson:"description" json:"description"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// Topic returns the text used for question relevance classification: the
// description when present, otherwise the course name.
func (c Course) Topic() string {
	if c.Description != "" {
		return c.Description
	}
	return c.CourseName
}

// Student is a registered student. StudentID is assigned per course starting
// at 1; the (student_id, course_id) pair is unique, StudentID alone is not.
type Student struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID     int                `bson:"student_id" json:"student_id"`
	CourseID      primitive.ObjectID `bson:"course_id" json:"course_id"`
	Name          string             `bson:"name" json:"name"`
	FaceEmbedding []float64          `bson:"face_embedding" json:"-"`
	Photo         []byte             `bson:"photo" json:"-"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// AttendanceRecord marks a student present for one calendar day. Date is
// normalized to midnight; at most one record exists per
// (student_id, course_id, date).
type AttendanceRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID   int                `bson:"student_id" json:"student_id"`
	CourseID    primitive.ObjectID `bson:"course_id" json:"course_id"`
	Date        time.Time          `bson:"date" json:"date"`
	Status      AttendanceStatus   `bson:"status" json:"status"`
	Timestamp   time.Time          `bson:"timestamp" json:"timestamp"`
	StudentName string             `bson:"student_name" json:"student_name"`
}

// HandRaise is one accepted hand-raise event. The log is append-only;
// deduplication happens upstream in the cooldown tracker.
type HandRaise struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID int                `bson:"student_id" json:"student_id"`
	CourseID  primitive.ObjectID `bson:"course_id" json:"course_id"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// Question is a captured, transcribed, and classified student question.
type Question struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID    int                `bson:"student_id" json:"student_id"`
	CourseID     primitive.ObjectID `bson:"course_id" json:"course_id"`
	QuestionText string             `bson:"question_text" json:"question_text"`
	IsRelevant   bool               `bson:"is_relevant" json:"is_relevant"`
	Reason       string             `bson:"reason" json:"reason"`
	StudentName  string             `bson:"student_name,omitempty" json:"student_name,omitempty"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
}

// EngagementSummary is the per-student counter snapshot kept in the
// engagement collection, one document per (student, course).
type EngagementSummary struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentID         int                `bson:"student_id" json:"student_id"`
	CourseID          primitive.ObjectID `bson:"course_id" json:"course_id"`
	HandRaises        int                `bson:"hand_raises" json:"hand_raises"`
	RelevantQuestions int                `bson:"relevant_questions" json:"relevant_questions"`
	Timestamp         time.Time          `bson:"timestamp" json:"timestamp"`
}

// StartOfDay truncates t to midnight in its location. Attendance date
// comparisons always operate on this value.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
