// Package engage records hand raises and questions and serves the
// engagement analytics views.
package engage

import (
	"context"
	"log"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classtrack/internal/model"
	"classtrack/internal/store"
)

// Repository persists engagement events in the document store.
type Repository struct {
	store *store.Mongo
}

// NewRepository creates a repo.
func NewRepository(m *store.Mongo) *Repository {
	return &Repository{store: m}
}

func (r *Repository) handRaises() *mongo.Collection {
	return r.store.DB.Collection(store.CollHandRaises)
}

func (r *Repository) questions() *mongo.Collection {
	return r.store.DB.Collection(store.CollQuestions)
}

// LogHandRaise appends one accepted hand-raise event.
func (r *Repository) LogHandRaise(ctx context.Context, studentID int, courseID primitive.ObjectID) (model.HandRaise, error) {
	raise := model.HandRaise{
		StudentID: studentID,
		CourseID:  courseID,
		Timestamp: time.Now().UTC(),
	}
	res, err := r.handRaises().InsertOne(ctx, raise)
	if err != nil {
		return model.HandRaise{}, err
	}
	raise.ID = res.InsertedID.(primitive.ObjectID)
	return raise, nil
}

// LogQuestion persists a transcribed and classified question.
func (r *Repository) LogQuestion(ctx context.Context, q model.Question) (model.Question, error) {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	res, err := r.questions().InsertOne(ctx, q)
	if err != nil {
		return model.Question{}, err
	}
	q.ID = res.InsertedID.(primitive.ObjectID)
	return q, nil
}

// StudentQuestions returns a student's questions in a course, newest first.
func (r *Repository) StudentQuestions(ctx context.Context, studentID int, courseID primitive.ObjectID) ([]model.Question, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cur, err := r.questions().Find(ctx, bson.M{"student_id": studentID, "course_id": courseID}, opts)
	if err != nil {
		return nil, err
	}
	var out []model.Question
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CourseQuestions returns a course's questions restricted to currently
// registered students, newest first, with student names attached.
func (r *Repository) CourseQuestions(ctx context.Context, courseID primitive.ObjectID) ([]model.Question, error) {
	cur, err := r.store.DB.Collection(store.CollStudents).Find(ctx, bson.M{"course_id": courseID})
	if err != nil {
		return nil, err
	}
	var students []model.Student
	if err := cur.All(ctx, &students); err != nil {
		return nil, err
	}
	names := make(map[int]string, len(students))
	ids := make([]int, 0, len(students))
	for _, s := range students {
		names[s.StudentID] = s.Name
		ids = append(ids, s.StudentID)
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cur, err = r.questions().Find(ctx, bson.M{
		"course_id":  courseID,
		"student_id": bson.M{"$in": ids},
	}, opts)
	if err != nil {
		return nil, err
	}
	var questions []model.Question
	if err := cur.All(ctx, &questions); err != nil {
		return nil, err
	}
	for i := range questions {
		if name, ok := names[questions[i].StudentID]; ok {
			questions[i].StudentName = name
		} else {
			questions[i].StudentName = "Unknown Student"
		}
	}
	return questions, nil
}

// HandRaiseCount returns the number of hand raises for a student in a course.
func (r *Repository) HandRaiseCount(ctx context.Context, studentID int, courseID primitive.ObjectID) (int64, error) {
	return r.handRaises().CountDocuments(ctx, bson.M{"student_id": studentID, "course_id": courseID})
}

// SaveSummary upserts a student's engagement counter snapshot for a course.
func (r *Repository) SaveSummary(ctx context.Context, studentID int, courseID primitive.ObjectID, handRaises, relevantQuestions int) error {
	filter := bson.M{"student_id": studentID, "course_id": courseID}
	update := bson.M{"$set": bson.M{
		"student_id":         studentID,
		"course_id":          courseID,
		"hand_raises":        handRaises,
		"relevant_questions": relevantQuestions,
		"timestamp":          time.Now().UTC(),
	}}
	_, err := r.store.DB.Collection(store.CollEngagement).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// StudentStanding is one row of the course analytics ranking.
type StudentStanding struct {
	StudentID  int    `json:"student_id"`
	Name       string `json:"name"`
	Relevant   int    `json:"relevant"`
	Irrelevant int    `json:"irrelevant"`
	HandRaises int64  `json:"hand_raises"`
}

// CourseAnalytics is the aggregate engagement view for a course.
type CourseAnalytics struct {
	TotalQuestions int               `json:"total_questions"`
	Relevant       int               `json:"relevant"`
	Irrelevant     int               `json:"irrelevant"`
	Standings      []StudentStanding `json:"standings"`
}

// Analytics aggregates the course's questions and hand raises into the
// relevant/irrelevant split and a ranking by relevant questions. Each
// student's stored snapshot is refreshed along the way; the snapshot is a
// side product, so a failed refresh is logged and never fails the view.
func (r *Repository) Analytics(ctx context.Context, courseID primitive.ObjectID) (CourseAnalytics, error) {
	questions, err := r.CourseQuestions(ctx, courseID)
	if err != nil {
		return CourseAnalytics{}, err
	}
	return aggregateAnalytics(questions,
		func(studentID int) (int64, error) {
			return r.HandRaiseCount(ctx, studentID, courseID)
		},
		func(studentID int, handRaises int64, relevant int) error {
			return r.SaveSummary(ctx, studentID, courseID, int(handRaises), relevant)
		})
}

// aggregateAnalytics folds questions and per-student hand-raise counts into
// the course view, handing each student's counters to snapshot. A snapshot
// error is logged and skipped; a hand-raise lookup error aborts.
func aggregateAnalytics(questions []model.Question, handRaises func(studentID int) (int64, error), snapshot func(studentID int, handRaises int64, relevant int) error) (CourseAnalytics, error) {
	byStudent := make(map[int]*StudentStanding)
	out := CourseAnalytics{TotalQuestions: len(questions)}
	for _, q := range questions {
		row, ok := byStudent[q.StudentID]
		if !ok {
			row = &StudentStanding{StudentID: q.StudentID, Name: q.StudentName}
			byStudent[q.StudentID] = row
		}
		if q.IsRelevant {
			out.Relevant++
			row.Relevant++
		} else {
			out.Irrelevant++
			row.Irrelevant++
		}
	}

	for id, row := range byStudent {
		count, err := handRaises(id)
		if err != nil {
			return CourseAnalytics{}, err
		}
		row.HandRaises = count
		out.Standings = append(out.Standings, *row)

		if err := snapshot(id, count, row.Relevant); err != nil {
			log.Printf("refreshing engagement snapshot for student %d: %v", id, err)
		}
	}
	sort.Slice(out.Standings, func(i, j int) bool {
		if out.Standings[i].Relevant != out.Standings[j].Relevant {
			return out.Standings[i].Relevant > out.Standings[j].Relevant
		}
		return out.Standings[i].StudentID < out.Standings[j].StudentID
	})
	return out, nil
}
