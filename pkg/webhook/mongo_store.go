package webhook

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultRetention bounds audit-log growth; Mongo's TTL monitor removes
// event documents after this window.
const DefaultRetention = 90 * 24 * time.Hour

// MongoStore implements Store on MongoDB. The create-or-claim is a single
// FindOneAndUpdate with upsert: the unique index on event_id turns a lost
// race into a duplicate-key error, which is then resolved by reading the
// winning document.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates the store and ensures its indexes: a unique index on
// event_id and a TTL index on created_at with the given retention (0 means
// DefaultRetention).
func NewMongoStore(ctx context.Context, db *mongo.Database, retention time.Duration) (*MongoStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	coll := db.Collection("webhook_events")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return nil, err
	}

	return &MongoStore{coll: coll}, nil
}

func (ms *MongoStore) ClaimForProcessing(ctx context.Context, ev *Event) (*Event, bool, error) {
	now := time.Now().UTC()

	// Match only claimable states. An upsert against this filter either
	// inserts a fresh processing record, flips pending/failed (or a stale
	// processing claim) to processing, or violates the unique event_id index
	// when the event is already held or processed.
	filter := bson.M{
		"event_id": ev.EventID,
		"$or": bson.A{
			bson.M{"status": bson.M{"$in": bson.A{StatusPending, StatusFailed}}},
			bson.M{"status": StatusProcessing, "claimed_at": bson.M{"$lt": now.Add(-StaleClaimAfter)}},
		},
	}
	update := bson.M{
		"$set": bson.M{"status": StatusProcessing, "claimed_at": now},
		"$setOnInsert": bson.M{
			"_id":          ev.ID,
			"event_id":     ev.EventID,
			"event_type":   ev.EventType,
			"payload":      ev.Payload,
			"attempts":     0,
			"max_attempts": ev.MaxAttempts,
			"source":       ev.Source,
			"created_at":   ev.CreatedAt,
		},
	}

	var claimed Event
	err := ms.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&claimed)
	if err == nil {
		return &claimed, true, nil
	}

	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, err
	}

	// Lost the claim: the record is processing or processed. Return it so
	// the processor can report idempotent/in-flight.
	current, gerr := ms.Get(ctx, ev.EventID)
	if gerr != nil {
		return nil, false, gerr
	}
	return current, false, nil
}

func (ms *MongoStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	res, err := ms.coll.UpdateOne(ctx,
		bson.M{"event_id": eventID},
		bson.M{"$set": bson.M{
			"status":       StatusProcessed,
			"error":        "",
			"processed_at": at,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MongoStore) MarkFailed(ctx context.Context, eventID string, errMsg string) error {
	res, err := ms.coll.UpdateOne(ctx,
		bson.M{"event_id": eventID},
		bson.M{
			"$set": bson.M{"status": StatusFailed, "error": errMsg},
			"$inc": bson.M{"attempts": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MongoStore) Get(ctx context.Context, eventID string) (*Event, error) {
	var ev Event
	err := ms.coll.FindOne(ctx, bson.M{"event_id": eventID}).Decode(&ev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (ms *MongoStore) List(ctx context.Context, f Filter) ([]*Event, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.EventType != "" {
		filter["event_type"] = f.EventType
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		created := bson.M{}
		if !f.From.IsZero() {
			created["$gte"] = f.From
		}
		if !f.To.IsZero() {
			created["$lte"] = f.To
		}
		filter["created_at"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}

	cur, err := ms.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Event
	for cur.Next(ctx) {
		var ev Event
		if err := cur.Decode(&ev); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, cur.Err()
}
