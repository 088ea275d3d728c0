package attendance

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"classtrack/internal/model"
	"classtrack/internal/store"
)

// Repository persists attendance records in the document store.
type Repository struct {
	store *store.Mongo
}

// NewRepository creates a repo.
func NewRepository(m *store.Mongo) *Repository {
	return &Repository{store: m}
}

func (r *Repository) coll() *mongo.Collection { return r.store.DB.Collection(store.CollAttendance) }

// FindForDay returns the record for (student, course, day) or nil when none
// exists. day must already be normalized to midnight.
func (r *Repository) FindForDay(ctx context.Context, studentID int, courseID primitive.ObjectID, day time.Time) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := r.coll().FindOne(ctx, bson.M{
		"student_id": studentID,
		"course_id":  courseID,
		"date":       day,
	}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new attendance record.
func (r *Repository) Insert(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	res, err := r.coll().InsertOne(ctx, rec)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.ID = res.InsertedID.(primitive.ObjectID)
	return rec, nil
}

// ForDate returns all records for a course on one calendar day.
func (r *Repository) ForDate(ctx context.Context, courseID primitive.ObjectID, day time.Time) ([]model.AttendanceRecord, error) {
	start := model.StartOfDay(day)
	end := start.AddDate(0, 0, 1)
	cur, err := r.coll().Find(ctx, bson.M{
		"course_id": courseID,
		"date":      bson.M{"$gte": start, "$lt": end},
	})
	if err != nil {
		return nil, err
	}
	var out []model.AttendanceRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountForStudent returns total and Present record counts for a student in a
// course.
func (r *Repository) CountForStudent(ctx context.Context, studentID int, courseID primitive.ObjectID) (total, present int64, err error) {
	filter := bson.M{"student_id": studentID, "course_id": courseID}
	total, err = r.coll().CountDocuments(ctx, filter)
	if err != nil {
		return 0, 0, err
	}
	filter["status"] = model.StatusPresent
	present, err = r.coll().CountDocuments(ctx, filter)
	if err != nil {
		return 0, 0, err
	}
	return total, present, nil
}
