package dunning

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/google/uuid"
)

// DefaultRetention bounds audit-log growth; Mongo's TTL monitor removes
// attempt documents after this window.
const DefaultRetention = 180 * 24 * time.Hour

// MongoStore implements Store on MongoDB. The due-attempt pick-up is a
// FindOneAndUpdate conditioned on status=pending, so two worker replicas
// can never claim the same row.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates the store and ensures its indexes: scheduled_at for
// the due sweep, subscription_id for episode lookups, and a TTL index on
// created_at with the given retention (0 means DefaultRetention).
func NewMongoStore(ctx context.Context, db *mongo.Database, retention time.Duration) (*MongoStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	coll := db.Collection("dunning_attempts")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "attempt_number", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	})
	if err != nil {
		return nil, err
	}

	return &MongoStore{coll: coll}, nil
}

func (ms *MongoStore) CreateAttempts(ctx context.Context, attempts []*Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	docs := make([]any, len(attempts))
	for i, a := range attempts {
		docs[i] = a
	}
	_, err := ms.coll.InsertMany(ctx, docs)
	return err
}

func (ms *MongoStore) Get(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	var a Attempt
	err := ms.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (ms *MongoStore) List(ctx context.Context, f Filter) ([]*Attempt, error) {
	filter := bson.M{}
	if f.SubscriptionID != uuid.Nil {
		filter["subscription_id"] = f.SubscriptionID
	}
	if f.UserID != uuid.Nil {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
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

	var out []*Attempt
	for cur.Next(ctx) {
		var a Attempt
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, cur.Err()
}

func (ms *MongoStore) ListOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Attempt, error) {
	cur, err := ms.coll.Find(ctx,
		bson.M{
			"subscription_id": subscriptionID,
			"status":          bson.M{"$in": bson.A{StatusPending, StatusAttempted}},
		},
		options.Find().SetSort(bson.D{{Key: "attempt_number", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Attempt
	for cur.Next(ctx) {
		var a Attempt
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, cur.Err()
}

func (ms *MongoStore) ClaimNextDue(ctx context.Context, now time.Time) (*Attempt, error) {
	var claimed Attempt
	err := ms.coll.FindOneAndUpdate(ctx,
		bson.M{"status": StatusPending, "scheduled_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": StatusAttempted, "attempted_at": now}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "scheduled_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&claimed)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoAttemptsDue
		}
		return nil, err
	}
	return &claimed, nil
}

func (ms *MongoStore) SetEmailSent(ctx context.Context, id uuid.UUID) error {
	res, err := ms.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"email_sent": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MongoStore) FailOldestAttempted(ctx context.Context, subscriptionID uuid.UUID, resultStatus string) (bool, error) {
	err := ms.coll.FindOneAndUpdate(ctx,
		bson.M{"subscription_id": subscriptionID, "status": StatusAttempted},
		bson.M{"$set": bson.M{"status": StatusFailed, "result_status": resultStatus}},
		options.FindOneAndUpdate().SetSort(bson.D{{Key: "attempt_number", Value: 1}}),
	).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (ms *MongoStore) CloseEpisodeSuccess(ctx context.Context, subscriptionID uuid.UUID, paymentRef string) (int, error) {
	set := bson.M{"status": StatusSuccess, "result_status": "recovered"}
	if paymentRef != "" {
		set["payment_ref"] = paymentRef
	}
	res, err := ms.coll.UpdateMany(ctx,
		bson.M{
			"subscription_id": subscriptionID,
			"status":          bson.M{"$in": bson.A{StatusPending, StatusAttempted}},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (ms *MongoStore) SkipPending(ctx context.Context, subscriptionID uuid.UUID, reason string) (int, error) {
	res, err := ms.coll.UpdateMany(ctx,
		bson.M{"subscription_id": subscriptionID, "status": StatusPending},
		bson.M{"$set": bson.M{"status": StatusSkipped, "result_status": reason}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
