package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
)

var (
	_ repositories.ConsultationRepository = &MemoryConsultationRepository{}
	_ repositories.PatientRepository      = &MemoryPatientRepository{}
)

func TestMemoryConsultationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConsultationRepository()

	first := entities.NewConsultation("patient-1")
	first.StartedAt = time.Now().Add(-time.Hour)
	second := entities.NewConsultation("patient-1")
	other := entities.NewConsultation("patient-2")

	for _, c := range []*entities.Consultation{first, second, other} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Failed to create consultation: %v", err)
		}
	}

	if err := repo.Create(ctx, first); !errors.Is(err, repositories.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	t.Run("GetByID returns a copy", func(t *testing.T) {
		got, err := repo.GetByID(ctx, second.ID)
		if err != nil {
			t.Fatalf("Failed to get consultation: %v", err)
		}
		got.AddTurn(entities.ConsultationTurn{User: "a", Model: "b"})

		again, _ := repo.GetByID(ctx, second.ID)
		if len(again.Turns) != 0 {
			t.Error("Mutating a returned consultation changed the stored one")
		}
	})

	t.Run("ListByPatient is most recent first", func(t *testing.T) {
		list, err := repo.ListByPatient(ctx, "patient-1", 10)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("Expected 2 consultations, got %d", len(list))
		}
		if list[0].ID != second.ID || list[1].ID != first.ID {
			t.Error("Expected newest consultation first")
		}

		limited, _ := repo.ListByPatient(ctx, "patient-1", 1)
		if len(limited) != 1 {
			t.Errorf("Expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("Update", func(t *testing.T) {
		got, _ := repo.GetByID(ctx, first.ID)
		got.AddTurn(entities.ConsultationTurn{User: "Ndababara umutwe", Model: "Kuva ryari?"})
		got.End("stopped")
		if err := repo.Update(ctx, got); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}

		stored, _ := repo.GetByID(ctx, first.ID)
		if stored.Status != entities.ConsultationStatusEnded || len(stored.Turns) != 1 {
			t.Errorf("Update not applied: %+v", stored)
		}

		missing := entities.NewConsultation("patient-3")
		if err := repo.Update(ctx, missing); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ExpireStale", func(t *testing.T) {
		stale, _ := repo.GetByID(ctx, other.ID)
		stale.LastActiveAt = time.Now().Add(-2 * entities.ConsultationIdleTimeout)
		if err := repo.Update(ctx, stale); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}

		count, err := repo.ExpireStale(ctx, time.Now().Add(-entities.ConsultationIdleTimeout))
		if err != nil {
			t.Fatalf("ExpireStale: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 expired consultation, got %d", count)
		}

		expired, _ := repo.GetByID(ctx, other.ID)
		if expired.Status != entities.ConsultationStatusExpired {
			t.Errorf("Expected status %s, got %s", entities.ConsultationStatusExpired, expired.Status)
		}
		active, _ := repo.GetByID(ctx, second.ID)
		if active.Status != entities.ConsultationStatusActive {
			t.Error("Recent consultation should stay active")
		}
	})
}

func TestMemoryPatientRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPatientRepository()

	patient := &entities.Patient{
		Phone:     "0788000000",
		FullName:  "Uwase Aline",
		BloodType: "O+",
		Allergies: []string{"Penicillin"},
	}
	if err := repo.Create(ctx, patient); err != nil {
		t.Fatalf("Failed to create patient: %v", err)
	}
	if patient.ID == "" {
		t.Error("Expected ID to be generated")
	}

	dup := &entities.Patient{Phone: "0788000000", FullName: "Someone Else"}
	if err := repo.Create(ctx, dup); !errors.Is(err, repositories.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	byPhone, err := repo.GetByPhone(ctx, "0788000000")
	if err != nil || byPhone.ID != patient.ID {
		t.Fatalf("GetByPhone: %v", err)
	}

	byPhone.Phone = "0788111111"
	byPhone.Allergies = append(byPhone.Allergies, "Aspirin")
	if err := repo.Update(ctx, byPhone); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if _, err := repo.GetByPhone(ctx, "0788000000"); !errors.Is(err, repositories.ErrNotFound) {
		t.Error("Old phone should no longer resolve")
	}
	updated, _ := repo.GetByID(ctx, patient.ID)
	if len(updated.Allergies) != 2 {
		t.Errorf("Expected 2 allergies, got %v", updated.Allergies)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := repo.Create(ctx, &entities.Patient{Phone: "1"}); err == nil {
		t.Error("Expected validation error for missing name")
	}
}
