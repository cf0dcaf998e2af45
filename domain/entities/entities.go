package entities

import (
	"errors"
	"strings"
	"time"
)

// Patient represents a registered patient account
type Patient struct {
	ID                string    `json:"id" bson:"_id"`
	Phone             string    `json:"phone" bson:"phone"`
	PINHash           []byte    `json:"-" bson:"pin_hash"`
	FullName          string    `json:"full_name" bson:"full_name"`
	DateOfBirth       string    `json:"dob,omitempty" bson:"dob,omitempty"`
	Location          string    `json:"location,omitempty" bson:"location,omitempty"`
	BloodType         string    `json:"blood_type,omitempty" bson:"blood_type,omitempty"`
	Allergies         []string  `json:"allergies" bson:"allergies"`
	ChronicConditions []string  `json:"chronic_conditions" bson:"chronic_conditions"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}

// Doctor is the persona a text consultation is held with
type Doctor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Specialty string   `json:"specialty"`
	Bio       string   `json:"bio"`
	Languages []string `json:"languages,omitempty"`
}

var validBloodTypes = map[string]bool{
	"": true, "N/A": true,
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

// Domain validation methods
func (p *Patient) Validate() error {
	if strings.TrimSpace(p.Phone) == "" {
		return errors.New("phone is required")
	}
	if strings.TrimSpace(p.FullName) == "" {
		return errors.New("full name is required")
	}
	if !validBloodTypes[p.BloodType] {
		return errors.New("invalid blood type")
	}
	return nil
}

func (d *Doctor) Validate() error {
	if d.Name == "" {
		return errors.New("name is required")
	}
	if d.Specialty == "" {
		return errors.New("specialty is required")
	}
	return nil
}
