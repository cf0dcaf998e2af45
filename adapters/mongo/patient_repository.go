package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

// PatientRepository implements repositories.PatientRepository using MongoDB
type PatientRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewPatientRepository creates a new MongoDB patient repository and ensures
// the phone number is unique.
func NewPatientRepository(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*PatientRepository, error) {
	collection := db.Collection("patients")

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create patient indexes: %w", err)
	}

	return &PatientRepository{
		collection: collection,
		logger:     logger,
	}, nil
}

// Create implements repositories.PatientRepository
func (r *PatientRepository) Create(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if err := patient.Validate(); err != nil {
		return err
	}

	if patient.ID == "" {
		patient.ID = uuid.New().String()
	}
	now := time.Now()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, patient); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repositories.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create patient: %w", err)
	}

	r.logger.Info("Patient registered", zap.String("patient_id", patient.ID))
	return nil
}

// GetByID implements repositories.PatientRepository
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	if id == "" {
		return nil, errors.New("patient ID cannot be empty")
	}
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByPhone implements repositories.PatientRepository
func (r *PatientRepository) GetByPhone(ctx context.Context, phone string) (*entities.Patient, error) {
	if phone == "" {
		return nil, errors.New("phone cannot be empty")
	}
	return r.findOne(ctx, bson.M{"phone": phone})
}

func (r *PatientRepository) findOne(ctx context.Context, filter bson.M) (*entities.Patient, error) {
	var patient entities.Patient
	err := r.collection.FindOne(ctx, filter).Decode(&patient)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

// Update implements repositories.PatientRepository
func (r *PatientRepository) Update(ctx context.Context, patient *entities.Patient) error {
	if patient == nil {
		return errors.New("patient cannot be nil")
	}
	if patient.ID == "" {
		return errors.New("patient ID cannot be empty")
	}
	if err := patient.Validate(); err != nil {
		return err
	}

	patient.UpdatedAt = time.Now()
	update := bson.M{
		"$set": bson.M{
			"phone":              patient.Phone,
			"pin_hash":           patient.PINHash,
			"full_name":          patient.FullName,
			"dob":                patient.DateOfBirth,
			"location":           patient.Location,
			"blood_type":         patient.BloodType,
			"allergies":          patient.Allergies,
			"chronic_conditions": patient.ChronicConditions,
			"updated_at":         patient.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": patient.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repositories.ErrAlreadyExists
		}
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
