package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the tracker.
const (
	CollCourses    = "courses"
	CollStudents   = "students"
	CollAttendance = "attendance"
	CollQuestions  = "questions"
	CollHandRaises = "hand_raises"
	CollEngagement = "engagement"
)

// Mongo wraps the document store client and the tracker database.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewMongo connects to the document store and pings it.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Mongo{Client: client, DB: client.Database(database)}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	return m.Client.Disconnect(ctx)
}

// EnsureCollections creates any missing collections and their indexes. The
// call is idempotent and safe to run on every startup.
func (m *Mongo) EnsureCollections(ctx context.Context) error {
	existing, err := m.DB.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	required := []string{CollCourses, CollStudents, CollAttendance, CollQuestions, CollHandRaises, CollEngagement}
	for _, name := range required {
		if have[name] {
			continue
		}
		if err := m.DB.CreateCollection(ctx, name); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		log.Printf("created %s collection", name)
	}

	return m.ensureIndexes(ctx)
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	indexes := []struct {
		coll string
		idx  mongo.IndexModel
	}{
		{CollCourses, mongo.IndexModel{
			Keys:    bson.D{{Key: "course_code", Value: 1}},
			Options: unique,
		}},
		{CollStudents, mongo.IndexModel{
			Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "course_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("student_course_unique"),
		}},
		{CollAttendance, mongo.IndexModel{
			Keys: bson.D{{Key: "date", Value: 1}, {Key: "student_id", Value: 1}},
		}},
		{CollQuestions, mongo.IndexModel{
			Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "course_id", Value: 1}, {Key: "timestamp", Value: -1}},
		}},
		{CollHandRaises, mongo.IndexModel{
			Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "course_id", Value: 1}, {Key: "timestamp", Value: -1}},
		}},
		{CollEngagement, mongo.IndexModel{
			Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "course_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("engagement_snapshot_unique"),
		}},
	}

	for _, spec := range indexes {
		if _, err := m.DB.Collection(spec.coll).Indexes().CreateOne(ctx, spec.idx); err != nil {
			return fmt.Errorf("index on %s: %w", spec.coll, err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a session transaction when the deployment
// supports one; standalone servers fall back to running fn directly.
func (m *Mongo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := m.Client.StartSession()
	if err != nil {
		// Standalone mongod has no sessions; cascade steps stay best-effort.
		return fn(ctx)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
