package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxPushEntries     = 10
	MinReasonLength    = 10
	MaxLogDomainLength = 255
)

var (
	ErrInvalidAllowlist = errors.New("invalid allowlist")
	ErrInvalidPush      = errors.New("invalid emergency push")
	ErrInvalidLog       = errors.New("invalid fuzzy match log")
)

// ValidationError names the offending field. It wraps one of the ErrInvalid*
// sentinels so callers can branch with errors.Is.
type ValidationError struct {
	Kind  error
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalid(kind error, field, format string, args ...any) error {
	return &ValidationError{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}

type PushRequest struct {
	PushID   string                `json:"pushId,omitempty"`
	Entries  []CrisisResourceEntry `json:"entries"`
	Reason   string                `json:"reason"`
	Operator string                `json:"operator,omitempty"`
}

type MatchLogRequest struct {
	InputDomain   string     `json:"inputDomain"`
	MatchedDomain string     `json:"matchedDomain"`
	Distance      int        `json:"distance"`
	DeviceType    DeviceType `json:"deviceType"`
}

// ValidateAllowlist is the choke point for every allowlist that enters the
// process: network responses, persisted caches and the bundled artifact.
func ValidateAllowlist(a Allowlist) error {
	if strings.TrimSpace(a.Version) == "" {
		return invalid(ErrInvalidAllowlist, "version", "empty")
	}
	if len(a.Entries) == 0 {
		return invalid(ErrInvalidAllowlist, "entries", "empty")
	}
	seen := make(map[string]struct{}, len(a.Entries))
	for i, e := range a.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if err := validateEntry(ErrInvalidAllowlist, field, e); err != nil {
			return err
		}
		if _, dup := seen[e.Domain]; dup {
			return invalid(ErrInvalidAllowlist, field+".domain", "duplicate domain %q", e.Domain)
		}
		seen[e.Domain] = struct{}{}
	}
	return nil
}

func ValidateOverrides(overrides []EmergencyOverrideEntry) error {
	for i, o := range overrides {
		field := fmt.Sprintf("overrides[%d]", i)
		if err := validateEntry(ErrInvalidAllowlist, field, o.CrisisResourceEntry); err != nil {
			return err
		}
		if o.PushID == "" {
			return invalid(ErrInvalidAllowlist, field+".pushId", "empty")
		}
	}
	return nil
}

func ValidatePushRequest(r PushRequest) error {
	if r.PushID != "" {
		id, err := uuid.Parse(r.PushID)
		if err != nil || id.Version() != 4 {
			return invalid(ErrInvalidPush, "pushId", "must be a UUIDv4")
		}
	}
	if len(r.Entries) < 1 || len(r.Entries) > MaxPushEntries {
		return invalid(ErrInvalidPush, "entries", "must contain 1..%d entries, got %d", MaxPushEntries, len(r.Entries))
	}
	seen := make(map[string]struct{}, len(r.Entries))
	for i, e := range r.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if err := validateEntry(ErrInvalidPush, field, e); err != nil {
			return err
		}
		if _, dup := seen[e.Domain]; dup {
			return invalid(ErrInvalidPush, field+".domain", "duplicate domain %q", e.Domain)
		}
		seen[e.Domain] = struct{}{}
	}
	if len(strings.TrimSpace(r.Reason)) < MinReasonLength {
		return invalid(ErrInvalidPush, "reason", "must be at least %d characters", MinReasonLength)
	}
	if r.Operator != "" {
		addr, err := mail.ParseAddress(r.Operator)
		if err != nil || addr.Address != r.Operator {
			return invalid(ErrInvalidPush, "operator", "must be a bare email address")
		}
	}
	return nil
}

func ValidateMatchLog(r MatchLogRequest) error {
	for field, v := range map[string]string{"inputDomain": r.InputDomain, "matchedDomain": r.MatchedDomain} {
		if v == "" {
			return invalid(ErrInvalidLog, field, "empty")
		}
		if len(v) > MaxLogDomainLength {
			return invalid(ErrInvalidLog, field, "longer than %d characters", MaxLogDomainLength)
		}
	}
	if r.Distance < 1 || r.Distance > 2 {
		return invalid(ErrInvalidLog, "distance", "must be 1 or 2")
	}
	if !r.DeviceType.Valid() {
		return invalid(ErrInvalidLog, "deviceType", "unknown device type %q", r.DeviceType)
	}
	return nil
}

func validateEntry(kind error, field string, e CrisisResourceEntry) error {
	if e.ID == "" {
		return invalid(kind, field+".id", "empty")
	}
	if err := checkDomain(e.Domain); err != "" {
		return invalid(kind, field+".domain", "%s", err)
	}
	if !e.Category.Valid() {
		return invalid(kind, field+".category", "unknown category %q", e.Category)
	}
	if strings.TrimSpace(e.Name) == "" {
		return invalid(kind, field+".name", "empty")
	}
	for j, a := range e.Aliases {
		if err := checkDomain(a); err != "" {
			return invalid(kind, fmt.Sprintf("%s.aliases[%d]", field, j), "%s", err)
		}
	}
	for j, p := range e.WildcardPatterns {
		if p == "" || strings.Contains(p, "://") || p != strings.ToLower(p) {
			return invalid(kind, fmt.Sprintf("%s.wildcardPatterns[%d]", field, j), "must be a non-empty lowercase pattern")
		}
	}
	return nil
}

func checkDomain(d string) string {
	switch {
	case d == "":
		return "empty"
	case d != strings.ToLower(d):
		return "must be lowercase"
	case strings.Contains(d, "://"):
		return "must not include a scheme"
	case strings.ContainsAny(d, "/?# "):
		return "must be a bare domain"
	}
	return ""
}
