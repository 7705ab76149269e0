package convert

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/api"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.FromString(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}

func TestParseID(t *testing.T) {
	t.Parallel()

	id, err := ParseID("donor_id", " 6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11 ")
	if err != nil || id.String() != "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11" {
		t.Fatalf("ParseID: %v %v", id, err)
	}
	for _, bad := range []string{"", "nope", uuid.Nil.String()} {
		if _, err := ParseID("donor_id", bad); err == nil || errs.Code(err) != errs.CodeValidation {
			t.Fatalf("want validation error for %q, got %v", bad, err)
		}
	}

	opt, err := ParseOptionalID("donor_id", "")
	if err != nil || opt.Valid {
		t.Fatalf("blank optional id must be null: %+v %v", opt, err)
	}
	if _, err := ParseOptionalID("donor_id", "x"); err == nil {
		t.Fatalf("want error for malformed optional id")
	}
}

func TestToDonorRedactsPhone(t *testing.T) {
	t.Parallel()

	p := model.DonorProfile{
		ID:        mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"),
		Role:      model.RoleDonor,
		FullName:  "Nadia",
		BloodType: "O-",
		Phone:     "+8801711111111",
	}
	if d := ToDonor(p); d.Phone != "" {
		t.Fatalf("public view leaked phone %q", d.Phone)
	}
	if d := ToOwnDonor(p); d.Phone != p.Phone {
		t.Fatalf("own view lost phone")
	}
	b, _ := json.Marshal(ToDonors([]model.DonorProfile{p}))
	if strings.Contains(string(b), "8801711111111") {
		t.Fatalf("encoded list leaked phone: %s", b)
	}
}

func TestToFulfillment(t *testing.T) {
	t.Parallel()

	req := model.BloodRequest{ID: mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"), TrackingCode: "BL-7K2M9QXD", Status: model.StatusFulfilled}
	out := ToFulfillment(model.Fulfillment{Request: req})
	if out.Impact != nil || out.ImpactCreated || out.Request.Status != "FULFILLED" {
		t.Fatalf("unexpected %+v", out)
	}

	rec := model.ImpactFor(uuid.Must(uuid.NewV4()), req, uuid.NullUUID{}, time.Now())
	out = ToFulfillment(model.Fulfillment{Request: req, Impact: &rec, ImpactCreated: true})
	if out.Impact == nil || out.Impact.RequestID != req.ID.String() || out.Impact.DonorID != "" {
		t.Fatalf("unexpected impact %+v", out.Impact)
	}
}

func TestToProfileUpdate(t *testing.T) {
	t.Parallel()

	until := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	denied := ToProfileUpdate(model.ProfileUpdate{DeniedUntil: until, Remaining: time.Hour + 300*time.Millisecond})
	if denied.Allowed || denied.Donor != nil || !denied.DeniedUntil.Equal(until) {
		t.Fatalf("unexpected %+v", denied)
	}
	if denied.RemainingSeconds != 3601 {
		t.Fatalf("remaining = %d, want rounded up to 3601", denied.RemainingSeconds)
	}

	ok := ToProfileUpdate(model.ProfileUpdate{Allowed: true, Profile: &model.DonorProfile{Phone: "1"}})
	if !ok.Allowed || ok.Donor == nil || ok.Donor.Phone != "1" || ok.DeniedUntil != nil {
		t.Fatalf("unexpected %+v", ok)
	}
}

func TestFromSubmitVerification(t *testing.T) {
	t.Parallel()

	reqID, ev, err := FromSubmitVerification(&api.SubmitVerificationRequest{
		RequestID: "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11", PrescriptionRef: "rx", BloodBagRef: "bag",
	})
	if err != nil || reqID.String() != "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11" || ev.DonorID.Valid || ev.PrescriptionRef != "rx" {
		t.Fatalf("unexpected %v %+v %v", reqID, ev, err)
	}
	if _, _, err := FromSubmitVerification(&api.SubmitVerificationRequest{RequestID: "x"}); err == nil {
		t.Fatalf("want error on bad request id")
	}
}

func TestParseTables(t *testing.T) {
	t.Parallel()

	got, err := ParseTables([]string{"requests", " profiles ", ""})
	if err != nil || len(got) != 2 || got[1] != model.TableProfiles {
		t.Fatalf("ParseTables: %v %v", got, err)
	}
	if _, err := ParseTables([]string{"users"}); err == nil {
		t.Fatalf("users must not be subscribable")
	}
}

func TestRedaction(t *testing.T) {
	t.Parallel()

	snap := RedactSnapshot(model.Snapshot{Donors: []model.DonorProfile{{Phone: "123"}}})
	if snap.Donors[0].Phone != "" {
		t.Fatalf("snapshot leaked phone")
	}

	evt := model.ChangeEvent{
		Table: model.TableProfiles, Op: model.OpUpdate,
		Old: json.RawMessage(`{"id":"a","phone":"123"}`),
		New: json.RawMessage(`{"id":"a","phone":"456","is_verified":true}`),
	}
	red, err := RedactEvent(evt)
	if err != nil {
		t.Fatalf("RedactEvent: %v", err)
	}
	if strings.Contains(string(red.Old), "123") || strings.Contains(string(red.New), "456") {
		t.Fatalf("event leaked phone: %s %s", red.Old, red.New)
	}
	if !strings.Contains(string(red.New), `"is_verified":true`) {
		t.Fatalf("other fields lost: %s", red.New)
	}

	req := model.ChangeEvent{Table: model.TableRequests, Op: model.OpInsert, New: json.RawMessage(`{"contact_phone":"1"}`)}
	if out, _ := RedactEvent(req); string(out.New) != string(req.New) {
		t.Fatalf("request rows must pass through")
	}

	if _, err := RedactEvent(model.ChangeEvent{Table: model.TableProfiles, Op: model.OpInsert, New: json.RawMessage(`[`)}); err == nil {
		t.Fatalf("want error on malformed row")
	}
}
