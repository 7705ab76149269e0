package api

import (
	"strings"

	"google.golang.org/grpc/status"
)

// StatusInfo is the machine-readable part of a BloodLink error.
type StatusInfo struct {
	Code   string // e.g. AUTHORIZATION_ERROR
	Reason string // e.g. DONOR_NOT_VERIFIED, empty when absent
	Detail string
}

// ParseError extracts the "CODE[:REASON]: detail" prefix from a gRPC error.
// ok is false when err carries no such prefix.
func ParseError(err error) (StatusInfo, bool) {
	st, isStatus := status.FromError(err)
	if !isStatus || st == nil {
		return StatusInfo{}, false
	}
	head, detail, found := strings.Cut(st.Message(), ": ")
	if !found || head == "" || strings.ToUpper(head) != head || strings.ContainsAny(head, " ") {
		return StatusInfo{Detail: st.Message()}, false
	}
	code, reason, _ := strings.Cut(head, ":")
	return StatusInfo{Code: code, Reason: reason, Detail: detail}, true
}
