package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50).
		SetMinPoolSize(2)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// intentDocument is the stored shape. Amount is kept as its exact decimal
// string.
type intentDocument struct {
	ReferenceCode string    `bson:"reference_code"`
	Amount        string    `bson:"amount"`
	ShippingFee   string    `bson:"shipping_fee,omitempty"`
	Provider      string    `bson:"provider"`
	QRDescriptor  string    `bson:"qr_descriptor"`
	TransferMemo  string    `bson:"transfer_memo"`
	Status        string    `bson:"status"`
	OwnerID       string    `bson:"owner_id"`
	OrderID       string    `bson:"order_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toDocument(p *domain.PaymentIntent) intentDocument {
	return intentDocument{
		ReferenceCode: p.ReferenceCode,
		Amount:        p.Amount.String(),
		ShippingFee:   p.ShippingFee.String(),
		Provider:      string(p.Provider),
		QRDescriptor:  p.QRDescriptor,
		TransferMemo:  p.TransferMemo,
		Status:        string(p.Status),
		OwnerID:       p.OwnerID,
		OrderID:       p.OrderID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (d intentDocument) toIntent() (*domain.PaymentIntent, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", d.Amount, err)
	}
	fee := decimal.Zero
	if d.ShippingFee != "" {
		if fee, err = decimal.NewFromString(d.ShippingFee); err != nil {
			return nil, fmt.Errorf("invalid stored shipping fee %q: %w", d.ShippingFee, err)
		}
	}
	return &domain.PaymentIntent{
		ReferenceCode: d.ReferenceCode,
		Amount:        amount,
		ShippingFee:   fee,
		Provider:      domain.Provider(d.Provider),
		QRDescriptor:  d.QRDescriptor,
		TransferMemo:  d.TransferMemo,
		Status:        domain.PaymentStatus(d.Status),
		OwnerID:       d.OwnerID,
		OrderID:       d.OrderID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("payment_intents"),
	}
}

func (m *MongoRepository) Save(ctx context.Context, intent *domain.PaymentIntent) error {
	now := time.Now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now

	filter := bson.M{"reference_code": intent.ReferenceCode}
	update := bson.M{"$set": toDocument(intent)}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save payment intent: %w", err)
	}
	return nil
}

func (m *MongoRepository) Get(ctx context.Context, referenceCode string) (*domain.PaymentIntent, error) {
	var doc intentDocument
	err := m.collection.FindOne(ctx, bson.M{"reference_code": referenceCode}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return doc.toIntent()
}

// TransitionStatus is a guarded update: the filter includes the expected
// current status.
func (m *MongoRepository) TransitionStatus(ctx context.Context, referenceCode string, from, to domain.PaymentStatus) (bool, error) {
	if !domain.CanTransitionTo(from, to) {
		return false, nil
	}
	filter := bson.M{
		"reference_code": referenceCode,
		"status":         string(from),
	}
	update := bson.M{
		"$set": bson.M{
			"status":     string(to),
			"updated_at": time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to transition payment intent: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (m *MongoRepository) MarkOrderPlaced(ctx context.Context, referenceCode, orderID string) error {
	filter := bson.M{"reference_code": referenceCode}
	update := bson.M{
		"$set": bson.M{
			"order_id":   orderID,
			"updated_at": time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark order placed: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// OpenByOwner looks for an unplaced paid intent first, then a pending one.
func (m *MongoRepository) OpenByOwner(ctx context.Context, ownerID string) (*domain.PaymentIntent, error) {
	newest := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	filters := []bson.M{
		{"owner_id": ownerID, "status": string(domain.PaymentPaid), "order_id": bson.M{"$in": bson.A{nil, ""}}},
		{"owner_id": ownerID, "status": string(domain.PaymentPending)},
	}
	for _, filter := range filters {
		var doc intentDocument
		err := m.collection.FindOne(ctx, filter, newest).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find open payment intent: %w", err)
		}
		return doc.toIntent()
	}
	return nil, ErrIntentNotFound
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reference_code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(180 * 24 * 60 * 60), // 180 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
