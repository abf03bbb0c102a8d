package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

var _ SampleStore = (*MongoSampleStore)(nil)

// MongoSampleStore archives price samples in a MongoDB collection keyed by sample id
type MongoSampleStore struct {
	samples *mongo.Collection
}

// NewMongoSampleStore creates a new MongoSampleStore over coll
func NewMongoSampleStore(coll *mongo.Collection) *MongoSampleStore {
	return &MongoSampleStore{samples: coll}
}

type sampleDoc struct {
	SampleID    string               `bson:"_id"`
	CategoryID  string               `bson:"category_id"`
	Price       primitive.Decimal128 `bson:"price"`
	CompletedAt time.Time            `bson:"completed_at"`
}

// EnsureIndexes creates the category/time index used by LoadSince
func (s *MongoSampleStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.samples.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "completed_at", Value: 1}, {Key: "category_id", Value: 1}},
	})
	return err
}

func (s *MongoSampleStore) Insert(ctx context.Context, sample domain.PriceSample) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	price, err := primitive.ParseDecimal128(sample.Price.String())
	if err != nil {
		return false, fmt.Errorf("failed to encode price %s: %w", sample.Price, err)
	}

	_, err = s.samples.InsertOne(ctx, sampleDoc{
		SampleID:    sample.SampleID,
		CategoryID:  sample.CategoryID,
		Price:       price,
		CompletedAt: sample.CompletedAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert price sample: %w", err)
	}
	return true, nil
}

func (s *MongoSampleStore) LoadSince(ctx context.Context, since time.Time) ([]domain.PriceSample, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "completed_at", Value: 1}})
	cur, err := s.samples.Find(ctx, bson.M{"completed_at": bson.M{"$gt": since.UTC()}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query price samples: %w", err)
	}
	defer cur.Close(ctx)

	var docs []sampleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode price samples: %w", err)
	}

	samples := make([]domain.PriceSample, 0, len(docs))
	for _, d := range docs {
		price, err := decimal.NewFromString(d.Price.String())
		if err != nil {
			return nil, fmt.Errorf("invalid price on sample %s: %w", d.SampleID, err)
		}
		samples = append(samples, domain.PriceSample{
			SampleID:    d.SampleID,
			CategoryID:  d.CategoryID,
			Price:       price,
			CompletedAt: d.CompletedAt,
		})
	}
	return samples, nil
}
