package service

import (
	"github.com/and161185/bloodlink/internal/eligibility"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

// ReasonOperatorRequired is the denial reason for operator-only actions.
const ReasonOperatorRequired = "OPERATOR_REQUIRED"

func requireAuth(actor model.CurrentUser) error {
	if !actor.Authenticated {
		return errs.Denied(string(eligibility.ReasonAuthRequired))
	}
	return nil
}

// requireOperator fails closed: anything but an authenticated admin is denied.
func requireOperator(actor model.CurrentUser) error {
	if err := requireAuth(actor); err != nil {
		return err
	}
	if !actor.IsOperator() {
		return errs.Denied(ReasonOperatorRequired)
	}
	return nil
}
