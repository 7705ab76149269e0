// Package eligibility decides when a requester may see a donor's direct contact details.
package eligibility

import (
	"strings"

	"github.com/and161185/bloodlink/internal/model"
)

// Reason is a machine-readable denial code.
type Reason string

const (
	ReasonAuthRequired         Reason = "AUTH_REQUIRED"
	ReasonRequesterNotVerified Reason = "REQUESTER_NOT_VERIFIED"
	ReasonDonorNotVerified     Reason = "DONOR_NOT_VERIFIED"
	ReasonSocialCheckRequired  Reason = "SOCIAL_CHECK_REQUIRED"
)

// Remedy returns the corrective action shown to the requester for a denial.
func (r Reason) Remedy() string {
	switch r {
	case ReasonAuthRequired:
		return "sign in to contact donors"
	case ReasonRequesterNotVerified:
		return "verify your own account before contacting donors"
	case ReasonDonorNotVerified:
		return "this donor is not verified yet; choose a verified donor"
	case ReasonSocialCheckRequired:
		return "open the donor's social profile first"
	default:
		return ""
	}
}

// Decision is the gate's result. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func deny(r Reason) Decision { return Decision{Reason: r} }

// CanContact evaluates the contact preconditions in order and stops at the first failure.
func CanContact(requester model.CurrentUser, donor model.DonorProfile, viewedSocial bool) Decision {
	if !requester.Authenticated {
		return deny(ReasonAuthRequired)
	}
	if !requester.Verified {
		return deny(ReasonRequesterNotVerified)
	}
	if !donor.IsVerified {
		return deny(ReasonDonorNotVerified)
	}
	if strings.TrimSpace(donor.SocialURL) != "" && !viewedSocial {
		return deny(ReasonSocialCheckRequired)
	}
	return Decision{Allowed: true}
}
