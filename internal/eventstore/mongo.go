package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"checkpointfeed/internal/models"
)

var (
	ErrWrite        = errors.New("event store write failed")
	ErrNotConnected = errors.New("event store not connected")
)

// duplicate-key server codes.
var duplicateCodes = map[int]struct{}{11000: {}, 11001: {}, 12582: {}}

type eventDocument struct {
	MessageID       int64     `bson:"message_id"`
	SourceChannel   string    `bson:"source_channel"`
	OriginalMessage string    `bson:"original_message"`
	CheckpointName  string    `bson:"checkpoint_name"`
	CityName        string    `bson:"city_name"`
	Status          string    `bson:"status"`
	Direction       string    `bson:"direction"`
	MessageDate     time.Time `bson:"message_date"`
}

// inserter is the slice of the collection API Persist needs.
type inserter interface {
	InsertUnordered(ctx context.Context, docs []any) error
}

type collectionInserter struct {
	coll *mongo.Collection
}

func (c collectionInserter) InsertUnordered(ctx context.Context, docs []any) error {
	_, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// MongoStore writes classified events to a MongoDB collection.
type MongoStore struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
	// Location interprets timestamps that carry no offset.
	Location *time.Location
	Logger   *zap.Logger
	Now      func() time.Time

	mu     sync.RWMutex
	client *mongo.Client
	coll   *mongo.Collection
	writer inserter
}

func (s *MongoStore) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 10 * time.Second
	}
	return s.Timeout
}

func (s *MongoStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Connect dials the server, verifies it with a ping and ensures the unique
// (source_channel, message_id) index.
func (s *MongoStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().
		ApplyURI(s.URI).
		SetServerSelectionTimeout(s.timeout()))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("mongo ping: %w", err)
	}
	coll := client.Database(s.Database).Collection(s.Collection)
	_, err = coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source_channel", Value: 1}, {Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("source_channel_message_id"),
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("mongo ensure index failed", zap.Error(err))
	}
	s.client = client
	s.coll = coll
	s.writer = collectionInserter{coll: coll}
	if s.Logger != nil {
		s.Logger.Info("mongo connected", zap.String("database", s.Database), zap.String("collection", s.Collection))
	}
	return nil
}

// Persist inserts events unordered. Duplicates count as written. Documents
// that fail for any other reason are resent once; the returned error wraps
// ErrWrite when some remain unwritten.
func (s *MongoStore) Persist(ctx context.Context, events []models.ClassifiedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	s.mu.RLock()
	writer := s.writer
	s.mu.RUnlock()
	if writer == nil {
		return 0, ErrNotConnected
	}
	now := s.now()
	pending := make([]any, 0, len(events))
	for _, ev := range events {
		pending = append(pending, toDocument(ev, s.Location, now))
	}

	written := 0
	var lastErr error
	for attempt := 1; attempt <= 2 && len(pending) > 0; attempt++ {
		err := writer.InsertUnordered(ctx, pending)
		failed := failedIndexes(err, len(pending))
		written += len(pending) - len(failed)
		if len(failed) == 0 {
			pending = nil
			break
		}
		lastErr = err
		retry := make([]any, 0, len(failed))
		for _, i := range failed {
			retry = append(retry, pending[i])
		}
		pending = retry
		if s.Logger != nil {
			s.Logger.Warn("mongo insert partially failed",
				zap.Int("attempt", attempt),
				zap.Int("failed", len(pending)),
				zap.Error(err),
			)
		}
	}
	if len(pending) > 0 {
		return written, fmt.Errorf("%w: %d of %d documents: %v", ErrWrite, len(pending), len(events), lastErr)
	}
	return written, nil
}

// failedIndexes lists positions that were not stored. Bulk write errors name
// the failing documents; any other error fails the whole batch.
func failedIndexes(err error, n int) []int {
	if err == nil {
		return nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		var out []int
		for _, we := range bwe.WriteErrors {
			if _, dup := duplicateCodes[we.Code]; dup {
				continue
			}
			if we.Index >= 0 && we.Index < n {
				out = append(out, we.Index)
			}
		}
		return out
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *MongoStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx, readpref.Primary())
}

// Count returns the number of stored events.
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	coll := s.coll
	s.mu.RUnlock()
	if coll == nil {
		return 0, ErrNotConnected
	}
	return coll.EstimatedDocumentCount(ctx)
}

func (s *MongoStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	s.writer = nil
	return err
}

func toDocument(ev models.ClassifiedEvent, loc *time.Location, now time.Time) eventDocument {
	return eventDocument{
		MessageID:       ev.MessageID,
		SourceChannel:   ev.SourceChannel,
		OriginalMessage: ev.OriginalMessage,
		CheckpointName:  wireName(ev.CheckpointName),
		CityName:        wireName(ev.CityName),
		Status:          ev.Status.Label(),
		Direction:       ev.Direction.Label(),
		MessageDate:     NormalizeDate(ev.MessageDate, ev.MessageDateText, loc, now),
	}
}

func wireName(name string) string {
	if name == "" || name == models.Unknown {
		return models.UnknownLabel
	}
	return name
}
