// Package convert maps domain entities to and from the wire types. Donor
// phone numbers never leave through here except for the donor's own profile.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/api"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/matcher"
	"github.com/and161185/bloodlink/internal/model"
)

// --- ids ---

// ParseID parses a required UUID field.
func ParseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.FromString(strings.TrimSpace(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.Invalid(field, "must be a UUID")
	}
	return id, nil
}

// ParseOptionalID parses a UUID field that may be blank.
func ParseOptionalID(field, s string) (uuid.NullUUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := ParseID(field, s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

func nullID(id uuid.NullUUID) string {
	if !id.Valid {
		return ""
	}
	return id.UUID.String()
}

// --- requests ---

// FromSubmitRequest copies the caller's input; validation happens in the service.
func FromSubmitRequest(in *api.SubmitRequestRequest) model.NewRequest {
	return model.NewRequest{
		PatientName:  in.PatientName,
		BloodType:    in.BloodType,
		UnitsNeeded:  in.UnitsNeeded,
		Hospital:     in.Hospital,
		Location:     in.Location,
		Urgency:      in.Urgency,
		NeededBy:     in.NeededBy,
		ContactName:  in.ContactName,
		ContactPhone: in.ContactPhone,
		Notes:        in.Notes,
	}
}

func ToRequest(r model.BloodRequest) api.Request {
	return api.Request{
		ID:           r.ID.String(),
		TrackingCode: r.TrackingCode,
		RequesterID:  nullID(r.RequesterID),
		PatientName:  r.PatientName,
		BloodType:    string(r.BloodType),
		UnitsNeeded:  r.UnitsNeeded,
		Hospital:     r.Hospital,
		Location:     r.Location,
		Urgency:      string(r.Urgency),
		NeededBy:     r.NeededBy,
		ContactName:  r.ContactName,
		ContactPhone: r.ContactPhone,
		Notes:        r.Notes,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func ToImpact(rec model.ImpactRecord) api.Impact {
	return api.Impact{
		ID:          rec.ID.String(),
		RequestID:   rec.RequestID.String(),
		PatientName: rec.PatientName,
		BloodType:   string(rec.BloodType),
		Hospital:    rec.Hospital,
		Location:    rec.Location,
		Units:       rec.Units,
		DonorID:     nullID(rec.DonorID),
		CreatedAt:   rec.CreatedAt,
	}
}

func ToImpacts(recs []model.ImpactRecord) []api.Impact {
	out := make([]api.Impact, 0, len(recs))
	for _, r := range recs {
		out = append(out, ToImpact(r))
	}
	return out
}

func ToFulfillment(f model.Fulfillment) api.FulfillmentResponse {
	out := api.FulfillmentResponse{Request: ToRequest(f.Request), ImpactCreated: f.ImpactCreated}
	if f.Impact != nil {
		imp := ToImpact(*f.Impact)
		out.Impact = &imp
	}
	return out
}

func ToMatch(res matcher.Result) api.MatchDonorsResponse {
	return api.MatchDonorsResponse{Donors: ToDonors(res.Donors), Pass: string(res.Pass)}
}

// --- verification ---

func ToProof(p model.VerificationProof) api.Proof {
	return api.Proof{
		ID:              p.ID.String(),
		RequestID:       p.RequestID.String(),
		DonorID:         nullID(p.DonorID),
		PrescriptionRef: p.PrescriptionRef,
		BloodBagRef:     p.BloodBagRef,
		Status:          string(p.Status),
		SubmittedAt:     p.SubmittedAt,
		ConfirmedAt:     p.ConfirmedAt,
	}
}

// FromSubmitVerification parses the proof submission.
func FromSubmitVerification(in *api.SubmitVerificationRequest) (uuid.UUID, model.Evidence, error) {
	reqID, err := ParseID("request_id", in.RequestID)
	if err != nil {
		return uuid.Nil, model.Evidence{}, err
	}
	donor, err := ParseOptionalID("donor_id", in.DonorID)
	if err != nil {
		return uuid.Nil, model.Evidence{}, err
	}
	return reqID, model.Evidence{DonorID: donor, PrescriptionRef: in.PrescriptionRef, BloodBagRef: in.BloodBagRef}, nil
}

// --- donors ---

// ToDonor is the public donor view, without the phone number.
func ToDonor(p model.DonorProfile) api.Donor {
	return api.Donor{
		ID:               p.ID.String(),
		FullName:         p.FullName,
		BloodType:        string(p.BloodType),
		Location:         p.Location,
		IsAvailable:      p.IsAvailable,
		IsVerified:       p.IsVerified,
		DonationCount:    p.DonationCount,
		LastDonationDate: p.LastDonationDate,
		SocialURL:        p.SocialURL,
		RatingAvg:        p.RatingAvg,
		RatingCount:      p.RatingCount,
	}
}

// ToOwnDonor is the view a donor gets of their own profile.
func ToOwnDonor(p model.DonorProfile) api.Donor {
	d := ToDonor(p)
	d.Phone = p.Phone
	return d
}

func ToDonors(ps []model.DonorProfile) []api.Donor {
	out := make([]api.Donor, 0, len(ps))
	for _, p := range ps {
		out = append(out, ToDonor(p))
	}
	return out
}

func FromProfileEdit(in *api.UpdateDonorProfileRequest) model.ProfileEdit {
	return model.ProfileEdit{
		FullName:  in.FullName,
		BloodType: in.BloodType,
		Location:  in.Location,
		Phone:     in.Phone,
		SocialURL: in.SocialURL,
	}
}

func ToProfileUpdate(u model.ProfileUpdate) api.UpdateDonorProfileResponse {
	out := api.UpdateDonorProfileResponse{Allowed: u.Allowed}
	if u.Allowed {
		if u.Profile != nil {
			d := ToOwnDonor(*u.Profile)
			out.Donor = &d
		}
		return out
	}
	until := u.DeniedUntil
	out.DeniedUntil = &until
	// round up so a client never retries a second early
	out.RemainingSeconds = int64((u.Remaining + time.Second - 1) / time.Second)
	return out
}

// --- events ---

func ToEvent(e model.DonationEvent) api.Event {
	return api.Event{ID: e.ID.String(), Title: e.Title, Location: e.Location, StartsAt: e.StartsAt, IsActive: e.IsActive}
}

func ToEvents(es []model.DonationEvent) []api.Event {
	out := make([]api.Event, 0, len(es))
	for _, e := range es {
		out = append(out, ToEvent(e))
	}
	return out
}

// --- change feed ---

// ParseTables validates a subscription filter. Empty means every table.
func ParseTables(names []string) ([]model.Table, error) {
	out := make([]model.Table, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		t := model.Table(n)
		known := false
		for _, w := range model.WatchedTables {
			if w == t {
				known = true
				break
			}
		}
		if !known {
			return nil, errs.Invalid("tables", fmt.Sprintf("unknown table %q", n))
		}
		out = append(out, t)
	}
	return out, nil
}

// RedactSnapshot strips donor phone numbers.
func RedactSnapshot(s model.Snapshot) model.Snapshot {
	donors := make([]model.DonorProfile, len(s.Donors))
	for i, d := range s.Donors {
		d.Phone = ""
		donors[i] = d
	}
	s.Donors = donors
	return s
}

// RedactEvent strips the phone field from profile rows.
func RedactEvent(evt model.ChangeEvent) (model.ChangeEvent, error) {
	if evt.Table != model.TableProfiles {
		return evt, nil
	}
	var err error
	if evt.Old, err = dropField(evt.Old, "phone"); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("redact old row: %w", err)
	}
	if evt.New, err = dropField(evt.New, "phone"); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("redact new row: %w", err)
	}
	return evt, nil
}

func dropField(row json.RawMessage, field string) (json.RawMessage, error) {
	if row == nil {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(row, &m); err != nil {
		return nil, err
	}
	if _, ok := m[field]; !ok {
		return row, nil
	}
	delete(m, field)
	return json.Marshal(m)
}
