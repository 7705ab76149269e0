package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/bloodlink/internal/crypto"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/matcher"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

const (
	maxUnits     = 10
	codeAttempts = 3
)

// RequestService is the request lifecycle coordinator: creation, status
// changes, verification and the one impact record per fulfilled request.
type RequestService struct {
	requests      repository.RequestRepository
	verifications repository.VerificationRepository
	donors        repository.DonorRepository
	matcher       *matcher.Matcher
	log           *zap.Logger

	now     func() time.Time
	newCode func() (string, error)
}

// NewRequestService wires the coordinator to its repositories.
func NewRequestService(store repository.Store, m *matcher.Matcher, log *zap.Logger) *RequestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RequestService{
		requests:      store.Requests,
		verifications: store.Verifications,
		donors:        store.Donors,
		matcher:       m,
		log:           log,
		now:           time.Now,
		newCode:       pkgcrypto.TrackingCode,
	}
}

// Create validates the input and stores a PENDING request under a fresh
// tracking code. Anonymous submissions are accepted.
func (s *RequestService) Create(ctx context.Context, actor model.CurrentUser, in model.NewRequest) (*model.BloodRequest, error) {
	req, err := validateNewRequest(in)
	if err != nil {
		return nil, err
	}
	if actor.Authenticated {
		req.RequesterID = uuid.NullUUID{UUID: actor.ID, Valid: true}
	}

	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("tracking code: %w", err)
		}
		r := req
		r.ID = uuid.Must(uuid.NewV4())
		r.TrackingCode = code
		err = s.requests.Create(ctx, &r)
		if err == nil {
			s.log.Info("request created",
				zap.String("tracking_code", r.TrackingCode),
				zap.String("blood_type", string(r.BloodType)),
				zap.String("urgency", string(r.Urgency)))
			return &r, nil
		}
		if !errors.Is(err, errs.ErrAlreadyExists) || attempt == codeAttempts {
			return nil, fmt.Errorf("create request: %w", err)
		}
		s.log.Warn("tracking code collision", zap.Int("attempt", attempt))
	}
}

func validateNewRequest(in model.NewRequest) (model.BloodRequest, error) {
	v := &errs.ValidationError{}
	required := func(field, val string, limit int) string {
		val = strings.TrimSpace(val)
		if val == "" {
			v.Add(field, "required")
		}
		checkText(v, field, val, limit, false)
		return val
	}

	r := model.BloodRequest{
		PatientName:  required("patient_name", in.PatientName, maxTextLen),
		Hospital:     required("hospital", in.Hospital, maxTextLen),
		Location:     required("location", in.Location, maxTextLen),
		ContactName:  required("contact_name", in.ContactName, maxTextLen),
		ContactPhone: required("contact_phone", in.ContactPhone, maxPhoneLen),
		Notes:        strings.TrimSpace(in.Notes),
		UnitsNeeded:  in.UnitsNeeded,
		NeededBy:     in.NeededBy,
		Status:       model.StatusPending,
	}
	if bt, ok := model.ParseBloodType(in.BloodType); ok {
		r.BloodType = bt
	} else {
		v.Add("blood_type", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	if in.UnitsNeeded < 1 || in.UnitsNeeded > maxUnits {
		v.Add("units_needed", fmt.Sprintf("must be between 1 and %d", maxUnits))
	}
	r.Urgency = model.Urgency(strings.ToUpper(strings.TrimSpace(in.Urgency)))
	if !r.Urgency.Valid() {
		v.Add("urgency", "must be NORMAL, URGENT or CRITICAL")
	}
	if in.NeededBy.IsZero() {
		v.Add("needed_by", "required")
	}
	checkText(v, "notes", r.Notes, maxNotesLen, true)
	return r, v.OrNil()
}

// GetByTracking returns the public view of a request.
func (s *RequestService) GetByTracking(ctx context.Context, code string) (*model.BloodRequest, error) {
	code = pkgcrypto.NormalizeTrackingCode(code)
	if code == "" {
		return nil, errs.Invalid("tracking_code", "required")
	}
	return s.requests.GetByTrackingCode(ctx, code)
}

// SetStatus is operator-only. FULFILLED creates the impact record in the
// same transaction unless the request already has one.
func (s *RequestService) SetStatus(ctx context.Context, actor model.CurrentUser, requestID uuid.UUID, status model.RequestStatus) (model.Fulfillment, error) {
	if err := requireOperator(actor); err != nil {
		return model.Fulfillment{}, err
	}
	if !status.Valid() {
		return model.Fulfillment{}, errs.Invalid("status", "must be PENDING, APPROVED, FULFILLED or CANCELLED")
	}
	f, err := s.requests.SetStatus(ctx, requestID, status, s.now())
	if err != nil {
		return model.Fulfillment{}, fmt.Errorf("set status: %w", err)
	}
	s.logFulfillment("request status set", f)
	return f, nil
}

// SubmitVerification files a PENDING proof for a request.
func (s *RequestService) SubmitVerification(ctx context.Context, actor model.CurrentUser, requestID uuid.UUID, ev model.Evidence) (*model.VerificationProof, error) {
	if err := requireAuth(actor); err != nil {
		return nil, err
	}
	v := &errs.ValidationError{}
	ev.PrescriptionRef = strings.TrimSpace(ev.PrescriptionRef)
	ev.BloodBagRef = strings.TrimSpace(ev.BloodBagRef)
	for field, ref := range map[string]string{"prescription_ref": ev.PrescriptionRef, "blood_bag_ref": ev.BloodBagRef} {
		if ref == "" {
			v.Add(field, "required")
		}
		checkText(v, field, ref, maxRefLen, false)
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	if ev.DonorID.Valid {
		p, err := s.donors.GetProfile(ctx, ev.DonorID.UUID)
		if err != nil {
			return nil, fmt.Errorf("donor: %w", err)
		}
		if !p.IsDonor() {
			return nil, errs.Invalid("donor_id", "not a donor")
		}
	}

	p := &model.VerificationProof{
		ID:              uuid.Must(uuid.NewV4()),
		RequestID:       requestID,
		DonorID:         ev.DonorID,
		PrescriptionRef: ev.PrescriptionRef,
		BloodBagRef:     ev.BloodBagRef,
	}
	if err := s.verifications.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("submit verification: %w", err)
	}
	s.log.Info("verification submitted", zap.String("proof_id", p.ID.String()), zap.String("request_id", requestID.String()))
	return p, nil
}

// ConfirmVerification approves a PENDING proof and fulfills its request
// atomically. Confirming a proof that is not PENDING is a conflict.
func (s *RequestService) ConfirmVerification(ctx context.Context, actor model.CurrentUser, proofID uuid.UUID) (model.VerificationProof, model.Fulfillment, error) {
	if err := requireOperator(actor); err != nil {
		return model.VerificationProof{}, model.Fulfillment{}, err
	}
	p, f, err := s.verifications.Confirm(ctx, proofID, s.now())
	if err != nil {
		return model.VerificationProof{}, model.Fulfillment{}, fmt.Errorf("confirm verification: %w", err)
	}
	s.logFulfillment("verification confirmed", f)
	return p, f, nil
}

// RejectVerification marks a PENDING proof REJECTED; the request is untouched.
func (s *RequestService) RejectVerification(ctx context.Context, actor model.CurrentUser, proofID uuid.UUID) (model.VerificationProof, error) {
	if err := requireOperator(actor); err != nil {
		return model.VerificationProof{}, err
	}
	p, err := s.verifications.Reject(ctx, proofID, s.now())
	if err != nil {
		return model.VerificationProof{}, fmt.Errorf("reject verification: %w", err)
	}
	return p, nil
}

// MatchDonors ranks donors for the request with the given tracking code.
// A blank bloodType and a nil location default to the request's own values;
// an empty location drops the location constraint.
func (s *RequestService) MatchDonors(ctx context.Context, code, bloodType string, location *string) (matcher.Result, error) {
	req, err := s.GetByTracking(ctx, code)
	if err != nil {
		return matcher.Result{}, err
	}
	if req.Status != model.StatusPending && req.Status != model.StatusFulfilled {
		return matcher.Result{}, fmt.Errorf("request %s is %s: %w", req.TrackingCode, req.Status, errs.ErrNotActive)
	}
	if strings.TrimSpace(bloodType) == "" {
		bloodType = string(req.BloodType)
	}
	where := req.Location
	if location != nil {
		where = *location
	}
	return s.matcher.Match(ctx, bloodType, where)
}

// ListImpact returns every impact record, newest first.
func (s *RequestService) ListImpact(ctx context.Context) ([]model.ImpactRecord, error) {
	return s.requests.ListImpact(ctx)
}

func (s *RequestService) logFulfillment(msg string, f model.Fulfillment) {
	fields := []zap.Field{
		zap.String("tracking_code", f.Request.TrackingCode),
		zap.String("status", string(f.Request.Status)),
	}
	if f.ImpactCreated {
		fields = append(fields, zap.String("impact_id", f.Impact.ID.String()))
	}
	s.log.Info(msg, fields...)
}
