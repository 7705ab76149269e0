// Package api defines the BloodLink wire contract: JSON messages, the gRPC
// service descriptor and a typed client.
package api

import "time"

// Request is the public view of a blood request.
type Request struct {
	ID           string    `json:"id"`
	TrackingCode string    `json:"tracking_code"`
	RequesterID  string    `json:"requester_id,omitempty"`
	PatientName  string    `json:"patient_name"`
	BloodType    string    `json:"blood_type"`
	UnitsNeeded  int       `json:"units_needed"`
	Hospital     string    `json:"hospital"`
	Location     string    `json:"location"`
	Urgency      string    `json:"urgency"`
	NeededBy     time.Time `json:"needed_by"`
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	Notes        string    `json:"notes,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Donor is a donor profile. Phone is only filled for the donor's own profile.
type Donor struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	BloodType        string     `json:"blood_type"`
	Location         string     `json:"location"`
	Phone            string     `json:"phone,omitempty"`
	IsAvailable      bool       `json:"is_available"`
	IsVerified       bool       `json:"is_verified"`
	DonationCount    int        `json:"donation_count"`
	LastDonationDate *time.Time `json:"last_donation_date,omitempty"`
	SocialURL        string     `json:"social_url,omitempty"`
	RatingAvg        float64    `json:"rating_avg"`
	RatingCount      int        `json:"rating_count"`
}

type Proof struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"request_id"`
	DonorID         string     `json:"donor_id,omitempty"`
	PrescriptionRef string     `json:"prescription_ref"`
	BloodBagRef     string     `json:"blood_bag_ref"`
	Status          string     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
}

type Impact struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	PatientName string    `json:"patient_name"`
	BloodType   string    `json:"blood_type"`
	Hospital    string    `json:"hospital"`
	Location    string    `json:"location"`
	Units       int       `json:"units"`
	DonorID     string    `json:"donor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Location string    `json:"location"`
	StartsAt time.Time `json:"starts_at"`
	IsActive bool      `json:"is_active"`
}

// --- auth ---

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
}

// --- requests ---

type SubmitRequestRequest struct {
	PatientName  string    `json:"patient_name"`
	BloodType    string    `json:"blood_type"`
	UnitsNeeded  int       `json:"units_needed"`
	Hospital     string    `json:"hospital"`
	Location     string    `json:"location"`
	Urgency      string    `json:"urgency"`
	NeededBy     time.Time `json:"needed_by"`
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	Notes        string    `json:"notes,omitempty"`
}

type GetRequestRequest struct {
	TrackingCode string `json:"tracking_code"`
}

type RequestResponse struct {
	Request Request `json:"request"`
}

type SetRequestStatusRequest struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// FulfillmentResponse carries Impact only when this call created it.
type FulfillmentResponse struct {
	Request       Request `json:"request"`
	Impact        *Impact `json:"impact,omitempty"`
	ImpactCreated bool    `json:"impact_created"`
}

// MatchDonorsRequest overrides the request's blood type and location. An
// omitted location uses the request's; an empty one searches everywhere.
type MatchDonorsRequest struct {
	TrackingCode string  `json:"tracking_code"`
	BloodType    string  `json:"blood_type,omitempty"`
	Location     *string `json:"location,omitempty"`
}

type MatchDonorsResponse struct {
	Donors []Donor `json:"donors"`
	Pass   string  `json:"pass"`
}

// --- verification ---

type SubmitVerificationRequest struct {
	RequestID       string `json:"request_id"`
	DonorID         string `json:"donor_id,omitempty"`
	PrescriptionRef string `json:"prescription_ref"`
	BloodBagRef     string `json:"blood_bag_ref"`
}

type ProofRequest struct {
	ProofID string `json:"proof_id"`
}

type ProofResponse struct {
	Proof Proof `json:"proof"`
}

type ConfirmVerificationResponse struct {
	Proof       Proof               `json:"proof"`
	Fulfillment FulfillmentResponse `json:"fulfillment"`
}

// --- donors ---

type CheckEligibilityRequest struct {
	DonorID      string `json:"donor_id"`
	ViewedSocial bool   `json:"viewed_social"`
}

type EligibilityResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Remedy  string `json:"remedy,omitempty"`
}

type OpenSocialProfileResponse struct {
	SocialURL string `json:"social_url"`
}

type RevealContactResponse struct {
	Phone string `json:"phone"`
}

// UpdateDonorProfileRequest edits the caller's profile; nil fields are kept.
type UpdateDonorProfileRequest struct {
	FullName  *string `json:"full_name,omitempty"`
	BloodType *string `json:"blood_type,omitempty"`
	Location  *string `json:"location,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	SocialURL *string `json:"social_url,omitempty"`
}

type UpdateDonorProfileResponse struct {
	Allowed          bool       `json:"allowed"`
	Donor            *Donor     `json:"donor,omitempty"`
	DeniedUntil      *time.Time `json:"denied_until,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
}

type SetAvailabilityRequest struct {
	Available bool `json:"available"`
}

type VerifyDonorRequest struct {
	DonorID  string `json:"donor_id"`
	Verified bool   `json:"verified"`
}

type RecordDonationRequest struct {
	DonorID string     `json:"donor_id"`
	Date    *time.Time `json:"date,omitempty"`
}

type RateDonorRequest struct {
	DonorID string `json:"donor_id"`
	Score   int    `json:"score"`
}

type DonorResponse struct {
	Donor Donor `json:"donor"`
}

// --- events and impact ---

type CreateEventRequest struct {
	Title    string    `json:"title"`
	Location string    `json:"location"`
	StartsAt time.Time `json:"starts_at"`
	Active   bool      `json:"active"`
}

type SetEventActiveRequest struct {
	EventID string `json:"event_id"`
	Active  bool   `json:"active"`
}

type EventResponse struct {
	Event Event `json:"event"`
}

type Empty struct{}

type ListEventsResponse struct {
	Events []Event `json:"events"`
}

type ListImpactResponse struct {
	Records []Impact `json:"records"`
}

// SubscribeRequest opens the change stream; no tables means all of them.
type SubscribeRequest struct {
	Tables []string `json:"tables,omitempty"`
}
