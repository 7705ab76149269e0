// Package model defines domain entities used by services, repositories and replicas.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// BloodType is an ABO/Rh group, e.g. "O-".
type BloodType string

// BloodTypes lists every accepted blood type.
var BloodTypes = []BloodType{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// ParseBloodType normalizes user input ("o-", " AB+ ") and reports whether it is known.
func ParseBloodType(s string) (BloodType, bool) {
	bt := BloodType(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range BloodTypes {
		if v == bt {
			return bt, true
		}
	}
	return "", false
}

// Urgency of a blood request.
type Urgency string

const (
	UrgencyNormal   Urgency = "NORMAL"
	UrgencyUrgent   Urgency = "URGENT"
	UrgencyCritical Urgency = "CRITICAL"
)

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyCritical:
		return true
	}
	return false
}

// RequestStatus is freely settable by an operator; counters derive from transitions.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusFulfilled RequestStatus = "FULFILLED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// ProofStatus is the state of a verification proof. APPROVED is terminal.
type ProofStatus string

const (
	ProofPending  ProofStatus = "PENDING"
	ProofApproved ProofStatus = "APPROVED"
	ProofRejected ProofStatus = "REJECTED"
)

// Role of an account. Only RoleDonor profiles are surfaced as donors.
type Role string

const (
	RoleDonor     Role = "donor"
	RoleRequester Role = "requester"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleDonor, RoleRequester, RoleAdmin:
		return true
	}
	return false
}

// BloodRequest is an urgent request for blood. TrackingCode never changes once issued.
type BloodRequest struct {
	ID           uuid.UUID     `json:"id"`
	TrackingCode string        `json:"tracking_code"`
	RequesterID  uuid.NullUUID `json:"requester_id"`
	PatientName  string        `json:"patient_name"`
	BloodType    BloodType     `json:"blood_type"`
	UnitsNeeded  int           `json:"units_needed"`
	Hospital     string        `json:"hospital"`
	Location     string        `json:"location"`
	Urgency      Urgency       `json:"urgency"`
	NeededBy     time.Time     `json:"needed_by"`
	ContactName  string        `json:"contact_name"`
	ContactPhone string        `json:"contact_phone"`
	Notes        string        `json:"notes"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewRequest is the caller-supplied part of a BloodRequest.
type NewRequest struct {
	PatientName  string
	BloodType    string
	UnitsNeeded  int
	Hospital     string
	Location     string
	Urgency      string
	NeededBy     time.Time
	ContactName  string
	ContactPhone string
	Notes        string
}

// DonorProfile is the profile row of an account; it is a donor only when Role is RoleDonor.
type DonorProfile struct {
	ID                uuid.UUID  `json:"id"`
	Role              Role       `json:"role"`
	FullName          string     `json:"full_name"`
	BloodType         BloodType  `json:"blood_type"`
	Location          string     `json:"location"`
	Phone             string     `json:"phone,omitempty"`
	IsAvailable       bool       `json:"is_available"`
	IsVerified        bool       `json:"is_verified"`
	DonationCount     int        `json:"donation_count"`
	LastDonationDate  *time.Time `json:"last_donation_date"`
	SocialURL         string     `json:"social_url"`
	RatingAvg         float64    `json:"rating_avg"`
	RatingCount       int        `json:"rating_count"`
	LastProfileUpdate *time.Time `json:"last_profile_update"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsDonor reports whether the profile participates in donor collections and counters.
func (p DonorProfile) IsDonor() bool { return p.Role == RoleDonor }

// ProfileEdit is a donor-initiated profile edit. Nil fields are left unchanged.
type ProfileEdit struct {
	FullName  *string
	BloodType *string
	Location  *string
	Phone     *string
	SocialURL *string
}

// ProfileUpdate is the outcome of a rate-limited profile edit.
type ProfileUpdate struct {
	Allowed     bool
	Profile     *DonorProfile
	DeniedUntil time.Time
	Remaining   time.Duration
}

// VerificationProof is evidence that a request was served.
type VerificationProof struct {
	ID              uuid.UUID     `json:"id"`
	RequestID       uuid.UUID     `json:"request_id"`
	DonorID         uuid.NullUUID `json:"donor_id"`
	PrescriptionRef string        `json:"prescription_ref"`
	BloodBagRef     string        `json:"blood_bag_ref"`
	Status          ProofStatus   `json:"status"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	ConfirmedAt     *time.Time    `json:"confirmed_at"`
}

// Evidence references supplied with a verification submission.
type Evidence struct {
	DonorID         uuid.NullUUID
	PrescriptionRef string
	BloodBagRef     string
}

// ImpactRecord ("life saved") is created exactly once per fulfilled request.
type ImpactRecord struct {
	ID          uuid.UUID     `json:"id"`
	RequestID   uuid.UUID     `json:"request_id"`
	PatientName string        `json:"patient_name"`
	BloodType   BloodType     `json:"blood_type"`
	Hospital    string        `json:"hospital"`
	Location    string        `json:"location"`
	Units       int           `json:"units"`
	DonorID     uuid.NullUUID `json:"donor_id"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ImpactFor snapshots the request at fulfillment time.
func ImpactFor(id uuid.UUID, r BloodRequest, donor uuid.NullUUID, at time.Time) ImpactRecord {
	return ImpactRecord{
		ID:          id,
		RequestID:   r.ID,
		PatientName: r.PatientName,
		BloodType:   r.BloodType,
		Hospital:    r.Hospital,
		Location:    r.Location,
		Units:       r.UnitsNeeded,
		DonorID:     donor,
		CreatedAt:   at,
	}
}

// Fulfillment reports the result of a FULFILLED transition.
type Fulfillment struct {
	Request       BloodRequest
	Impact        *ImpactRecord // nil unless this call created it
	ImpactCreated bool
}

// DonationEvent is an operator-managed donation drive.
type DonationEvent struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	StartsAt  time.Time `json:"starts_at"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID        uuid.UUID // PK, shared with profiles.id
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	Role      Role
	CreatedAt time.Time
}

// CurrentUser is what the identity collaborator reports about the caller.
type CurrentUser struct {
	ID            uuid.UUID
	Authenticated bool
	Verified      bool
	Role          Role
}

// IsOperator reports whether the caller may perform operator-privileged actions.
func (u CurrentUser) IsOperator() bool { return u.Authenticated && u.Role == RoleAdmin }
