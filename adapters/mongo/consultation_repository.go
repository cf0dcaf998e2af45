package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

// ConsultationRepository implements repositories.ConsultationRepository using MongoDB
type ConsultationRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewConsultationRepository creates a new MongoDB consultation repository
func NewConsultationRepository(db *mongo.Database, logger *zap.Logger) *ConsultationRepository {
	collection := db.Collection("consultations")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		patientIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "patient_id", Value: 1},
				{Key: "started_at", Value: -1},
			},
		}

		// Used by ExpireStale.
		statusActiveIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "last_active_at", Value: 1},
			},
		}

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			patientIndex,
			statusActiveIndex,
		})
		if err != nil {
			logger.Error("Failed to create consultation indexes", zap.Error(err))
		} else {
			logger.Info("Consultation indexes created successfully")
		}
	}()

	return &ConsultationRepository{
		collection: collection,
		logger:     logger,
	}
}

// Create implements repositories.ConsultationRepository
func (r *ConsultationRepository) Create(ctx context.Context, consultation *entities.Consultation) error {
	if consultation == nil {
		return errors.New("consultation cannot be nil")
	}
	if err := consultation.Validate(); err != nil {
		return err
	}

	_, err := r.collection.InsertOne(ctx, consultation)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repositories.ErrAlreadyExists
		}
		r.logger.Error("Failed to create consultation", zap.Error(err), zap.String("patient_id", consultation.PatientID))
		return fmt.Errorf("failed to create consultation: %w", err)
	}

	r.logger.Info("Consultation created",
		zap.String("consultation_id", consultation.ID),
		zap.String("patient_id", consultation.PatientID))
	return nil
}

// GetByID implements repositories.ConsultationRepository
func (r *ConsultationRepository) GetByID(ctx context.Context, id string) (*entities.Consultation, error) {
	if id == "" {
		return nil, errors.New("consultation ID cannot be empty")
	}

	var consultation entities.Consultation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&consultation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		r.logger.Error("Failed to get consultation by ID", zap.Error(err), zap.String("consultation_id", id))
		return nil, err
	}
	return &consultation, nil
}

// ListByPatient implements repositories.ConsultationRepository
func (r *ConsultationRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.Consultation, error) {
	if patientID == "" {
		return nil, errors.New("patient ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"patient_id": patientID}, opts)
	if err != nil {
		r.logger.Error("Failed to list consultations", zap.Error(err), zap.String("patient_id", patientID))
		return nil, err
	}
	defer cursor.Close(ctx)

	consultations := make([]*entities.Consultation, 0)
	for cursor.Next(ctx) {
		var consultation entities.Consultation
		if err := cursor.Decode(&consultation); err != nil {
			r.logger.Error("Failed to decode consultation", zap.Error(err))
			continue
		}
		consultations = append(consultations, &consultation)
	}

	if err := cursor.Err(); err != nil {
		r.logger.Error("Cursor error", zap.Error(err))
		return nil, err
	}
	return consultations, nil
}

// Update implements repositories.ConsultationRepository
func (r *ConsultationRepository) Update(ctx context.Context, consultation *entities.Consultation) error {
	if consultation == nil {
		return errors.New("consultation cannot be nil")
	}
	if err := consultation.Validate(); err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"status":         consultation.Status,
			"turns":          consultation.Turns,
			"summary":        consultation.Summary,
			"end_reason":     consultation.EndReason,
			"last_active_at": consultation.LastActiveAt,
			"expires_at":     consultation.ExpiresAt,
			"ended_at":       consultation.EndedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": consultation.ID}, update)
	if err != nil {
		r.logger.Error("Failed to update consultation", zap.Error(err), zap.String("consultation_id", consultation.ID))
		return err
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("Consultation updated", zap.String("consultation_id", consultation.ID))
	return nil
}

// ExpireStale implements repositories.ConsultationRepository
func (r *ConsultationRepository) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":         entities.ConsultationStatusActive,
		"last_active_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     entities.ConsultationStatusExpired,
			"end_reason": "expired",
			"ended_at":   time.Now(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire consultations", zap.Error(err))
		return 0, err
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired consultations", zap.Int64("count", result.ModifiedCount))
	}
	return int(result.ModifiedCount), nil
}
