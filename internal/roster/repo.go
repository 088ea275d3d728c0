// Package roster manages courses and their registered students.
package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classtrack/internal/model"
	"classtrack/internal/store"
)

// EmbeddingDim is the fixed length of a face embedding vector.
const EmbeddingDim = 128

var (
	ErrCourseNotFound      = errors.New("course not found")
	ErrStudentNotFound     = errors.New("student not found")
	ErrDuplicateCourseCode = errors.New("course code already in use")
)

// studentStore is the thin document surface the numbering and cascade logic
// runs on. The mongo implementation below is the production one; tests swap
// in an in-memory fake.
type studentStore interface {
	topStudentID(ctx context.Context, courseID primitive.ObjectID) (int, error)
	insertStudent(ctx context.Context, s model.Student) (model.Student, error)
	deleteStudent(ctx context.Context, studentID int, courseID primitive.ObjectID) (bool, error)
	purgeStudentRecords(ctx context.Context, studentID int, courseID primitive.ObjectID) error
	studentsInCourse(ctx context.Context, courseID primitive.ObjectID) ([]model.Student, error)
	deleteCourse(ctx context.Context, id primitive.ObjectID) (bool, error)
	inTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository persists courses and students in the document store.
type Repository struct {
	store *store.Mongo
	docs  studentStore
}

// NewRepository creates a repo.
func NewRepository(m *store.Mongo) *Repository {
	return &Repository{store: m, docs: &mongoStudents{m: m}}
}

func (r *Repository) courses() *mongo.Collection { return r.store.DB.Collection(store.CollCourses) }

// CreateCourse inserts a new course. The code must be unique; duplicates are
// rejected before the insert so the caller gets a clean validation error.
func (r *Repository) CreateCourse(ctx context.Context, name, code, description string) (model.Course, error) {
	if name == "" {
		return model.Course{}, errors.New("course name required")
	}
	if code == "" {
		return model.Course{}, errors.New("course code required")
	}
	count, err := r.courses().CountDocuments(ctx, bson.M{"course_code": code})
	if err != nil {
		return model.Course{}, err
	}
	if count > 0 {
		return model.Course{}, ErrDuplicateCourseCode
	}

	course := model.Course{
		CourseName:  name,
		CourseCode:  code,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	res, err := r.courses().InsertOne(ctx, course)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.Course{}, ErrDuplicateCourseCode
		}
		return model.Course{}, err
	}
	course.ID = res.InsertedID.(primitive.ObjectID)
	return course, nil
}

// ListCourses returns all courses.
func (r *Repository) ListCourses(ctx context.Context) ([]model.Course, error) {
	cur, err := r.courses().Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var out []model.Course
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCourse returns a course by id.
func (r *Repository) GetCourse(ctx context.Context, id primitive.ObjectID) (model.Course, error) {
	var course model.Course
	err := r.courses().FindOne(ctx, bson.M{"_id": id}).Decode(&course)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Course{}, ErrCourseNotFound
	}
	return course, err
}

// GetCourseByCode returns a course by its unique code.
func (r *Repository) GetCourseByCode(ctx context.Context, code string) (model.Course, error) {
	var course model.Course
	err := r.courses().FindOne(ctx, bson.M{"course_code": code}).Decode(&course)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Course{}, ErrCourseNotFound
	}
	return course, err
}

// UpdateCourse applies field-set semantics: only non-empty arguments change
// the stored document.
func (r *Repository) UpdateCourse(ctx context.Context, id primitive.ObjectID, name, code, description string) error {
	set := bson.M{}
	if name != "" {
		set["course_name"] = name
	}
	if code != "" {
		set["course_code"] = code
	}
	if description != "" {
		set["description"] = description
	}
	if len(set) == 0 {
		return nil
	}
	res, err := r.courses().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCourseCode
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrCourseNotFound
	}
	return nil
}

// DeleteCourse removes a course and cascades to its students and their
// dependent records. The cascade is best-effort: a failed student cleanup is
// reported but already-completed steps stay deleted.
func (r *Repository) DeleteCourse(ctx context.Context, id primitive.ObjectID) error {
	students, err := r.docs.studentsInCourse(ctx, id)
	if err != nil {
		return err
	}
	var firstErr error
	for _, s := range students {
		if err := r.RemoveStudent(ctx, s.StudentID, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cascade for student %d: %w", s.StudentID, err)
		}
	}
	found, err := r.docs.deleteCourse(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrCourseNotFound
	}
	return firstErr
}

// AddStudent registers a student in a course. The per-course student number
// is one greater than the current maximum in that course, starting at 1.
func (r *Repository) AddStudent(ctx context.Context, name string, embedding []float64, courseID primitive.ObjectID, photo []byte) (model.Student, error) {
	if name == "" {
		return model.Student{}, errors.New("student name required")
	}
	if len(embedding) != EmbeddingDim {
		return model.Student{}, fmt.Errorf("embedding must have %d dimensions, got %d", EmbeddingDim, len(embedding))
	}
	if len(photo) == 0 {
		return model.Student{}, errors.New("reference photo required")
	}

	top, err := r.docs.topStudentID(ctx, courseID)
	if err != nil {
		return model.Student{}, err
	}

	student := model.Student{
		StudentID:     top + 1,
		CourseID:      courseID,
		Name:          name,
		FaceEmbedding: embedding,
		Photo:         photo,
		CreatedAt:     time.Now().UTC(),
	}
	return r.docs.insertStudent(ctx, student)
}

// ListStudents returns all students in a course.
func (r *Repository) ListStudents(ctx context.Context, courseID primitive.ObjectID) ([]model.Student, error) {
	return r.docs.studentsInCourse(ctx, courseID)
}

// GetStudent returns one student by per-course number.
func (r *Repository) GetStudent(ctx context.Context, studentID int, courseID primitive.ObjectID) (model.Student, error) {
	var s model.Student
	err := r.store.DB.Collection(store.CollStudents).FindOne(ctx, bson.M{"student_id": studentID, "course_id": courseID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Student{}, ErrStudentNotFound
	}
	return s, err
}

// RemoveStudent deletes a student and all their attendance, engagement,
// question, and hand-raise records. The steps run in a transaction when the
// deployment supports one.
func (r *Repository) RemoveStudent(ctx context.Context, studentID int, courseID primitive.ObjectID) error {
	return r.docs.inTransaction(ctx, func(ctx context.Context) error {
		deleted, err := r.docs.deleteStudent(ctx, studentID, courseID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrStudentNotFound
		}
		return r.docs.purgeStudentRecords(ctx, studentID, courseID)
	})
}

// RenameStudent updates a student's name and fans the new name out to the
// denormalized copies in question and attendance records.
func (r *Repository) RenameStudent(ctx context.Context, studentID int, courseID primitive.ObjectID, newName string) error {
	if newName == "" {
		return errors.New("student name required")
	}
	filter := bson.M{"student_id": studentID, "course_id": courseID}
	res, err := r.store.DB.Collection(store.CollStudents).UpdateOne(ctx, filter, bson.M{"$set": bson.M{"name": newName}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrStudentNotFound
	}

	set := bson.M{"$set": bson.M{"student_name": newName}}
	if _, err := r.store.DB.Collection(store.CollQuestions).UpdateMany(ctx, filter, set); err != nil {
		return fmt.Errorf("rename in questions: %w", err)
	}
	if _, err := r.store.DB.Collection(store.CollAttendance).UpdateMany(ctx, filter, set); err != nil {
		return fmt.Errorf("rename in attendance: %w", err)
	}
	return nil
}

// Reference is one student's identity data for the matcher.
type Reference struct {
	Name      string
	Embedding []float64
}

// CourseReferences returns the reference embeddings for every student in a
// course, keyed by per-course student number. Loaded once per session and
// refreshed after registration or removal.
func (r *Repository) CourseReferences(ctx context.Context, courseID primitive.ObjectID) (map[int]Reference, error) {
	students, err := r.docs.studentsInCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	refs := make(map[int]Reference, len(students))
	for _, s := range students {
		refs[s.StudentID] = Reference{Name: s.Name, Embedding: s.FaceEmbedding}
	}
	return refs, nil
}

// mongoStudents is the production studentStore over the mongo collections.
type mongoStudents struct {
	m *store.Mongo
}

func (s *mongoStudents) students() *mongo.Collection {
	return s.m.DB.Collection(store.CollStudents)
}

// topStudentID returns the highest per-course student number, or 0 for an
// empty course.
func (s *mongoStudents) topStudentID(ctx context.Context, courseID primitive.ObjectID) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "student_id", Value: -1}})
	var top model.Student
	err := s.students().FindOne(ctx, bson.M{"course_id": courseID}, opts).Decode(&top)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return top.StudentID, nil
}

func (s *mongoStudents) insertStudent(ctx context.Context, student model.Student) (model.Student, error) {
	res, err := s.students().InsertOne(ctx, student)
	if err != nil {
		return model.Student{}, err
	}
	student.ID = res.InsertedID.(primitive.ObjectID)
	return student, nil
}

func (s *mongoStudents) deleteStudent(ctx context.Context, studentID int, courseID primitive.ObjectID) (bool, error) {
	res, err := s.students().DeleteOne(ctx, bson.M{"student_id": studentID, "course_id": courseID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *mongoStudents) purgeStudentRecords(ctx context.Context, studentID int, courseID primitive.ObjectID) error {
	byStudentCourse := bson.M{"student_id": studentID, "course_id": courseID}
	for _, coll := range []string{store.CollAttendance, store.CollQuestions, store.CollHandRaises, store.CollEngagement} {
		if _, err := s.m.DB.Collection(coll).DeleteMany(ctx, byStudentCourse); err != nil {
			return fmt.Errorf("delete %s records: %w", coll, err)
		}
	}
	return nil
}

func (s *mongoStudents) studentsInCourse(ctx context.Context, courseID primitive.ObjectID) ([]model.Student, error) {
	cur, err := s.students().Find(ctx, bson.M{"course_id": courseID})
	if err != nil {
		return nil, err
	}
	var out []model.Student
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStudents) deleteCourse(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.m.DB.Collection(store.CollCourses).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *mongoStudents) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.m.WithTransaction(ctx, fn)
}
