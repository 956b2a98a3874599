package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Core domain models. Wire shapes use the same JSON field names the clients
// already speak, so these types double as request/response bodies.

type Category string

const (
	CategorySuicide          Category = "suicide"
	CategorySelfHarm         Category = "self_harm"
	CategoryAbuse            Category = "abuse"
	CategoryHelp             Category = "help"
	CategoryCrisis           Category = "crisis"
	CategoryLGBTQ            Category = "lgbtq"
	CategoryEatingDisorder   Category = "eating_disorder"
	CategorySubstance        Category = "substance"
	CategoryDomesticViolence Category = "domestic_violence"
	CategoryMentalHealth     Category = "mental_health"
)

func (c Category) Valid() bool {
	switch c {
	case CategorySuicide, CategorySelfHarm, CategoryAbuse, CategoryHelp, CategoryCrisis,
		CategoryLGBTQ, CategoryEatingDisorder, CategorySubstance, CategoryDomesticViolence,
		CategoryMentalHealth:
		return true
	}
	return false
}

type ContactMethod struct {
	Type  string `json:"type"` // phone|text|chat|web
	Value string `json:"value"`
}

type CrisisResourceEntry struct {
	ID               string          `json:"id"`
	Domain           string          `json:"domain"`
	Category         Category        `json:"category"`
	Aliases          []string        `json:"aliases,omitempty"`
	WildcardPatterns []string        `json:"wildcardPatterns,omitempty"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Region           string          `json:"region,omitempty"`
	ContactMethods   []ContactMethod `json:"contactMethods,omitempty"`
}

type Allowlist struct {
	Version     string                `json:"version"`
	LastUpdated time.Time             `json:"lastUpdated"`
	Entries     []CrisisResourceEntry `json:"entries"`
}

// EmergencyOverrideEntry is a resource added out of band by an emergency push.
// Overrides are unioned with the base list when a snapshot is built and are
// never stored merged into it.
type EmergencyOverrideEntry struct {
	CrisisResourceEntry
	AddedAt time.Time `json:"addedAt"`
	Reason  string    `json:"reason"`
	PushID  string    `json:"pushId"`
}

type CacheSource string

const (
	SourceNetwork CacheSource = "network"
	SourceCache   CacheSource = "cache"
	SourceBundled CacheSource = "bundled"
)

type CacheStatus struct {
	IsValid bool        `json:"isValid"`
	AgeMs   int64       `json:"ageMs"`
	Version string      `json:"version"`
	Source  CacheSource `json:"source"`
}

type PushStatus string

const (
	PushPending    PushStatus = "pending"
	PushPropagated PushStatus = "propagated"
	PushVerified   PushStatus = "verified"
	PushFailed     PushStatus = "failed"
)

// CanTransition reports whether the push state machine allows s -> to.
func (s PushStatus) CanTransition(to PushStatus) bool {
	switch s {
	case PushPending:
		return to == PushPropagated
	case PushPropagated:
		return to == PushVerified || to == PushFailed
	case PushVerified, PushFailed:
		return false
	}
	return false
}

func (s PushStatus) Terminal() bool { return s == PushVerified || s == PushFailed }

type EmergencyPushRecord struct {
	ID               string                `json:"id"`
	Entries          []CrisisResourceEntry `json:"entries"`
	Reason           string                `json:"reason"`
	Operator         string                `json:"operator,omitempty"`
	Timestamp        time.Time             `json:"timestamp"`
	Status           PushStatus            `json:"status"`
	EmergencyVersion string                `json:"emergencyVersion,omitempty"`
	PropagatedAt     *time.Time            `json:"propagatedAt,omitempty"`
	VerifiedAt       *time.Time            `json:"verifiedAt,omitempty"`
	FailureReason    *string               `json:"failureReason,omitempty"`
}

type DeviceType string

const (
	DeviceBrowserExtension DeviceType = "browser_extension"
	DeviceAndroid          DeviceType = "android"
	DeviceIOS              DeviceType = "ios"
	DeviceWeb              DeviceType = "web"
)

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceBrowserExtension, DeviceAndroid, DeviceIOS, DeviceWeb:
		return true
	}
	return false
}

// FuzzyMatchLogEntry has no field that could carry a child, family or user
// identifier. Keep it that way.
type FuzzyMatchLogEntry struct {
	ID            string     `json:"id"`
	InputDomain   string     `json:"inputDomain"`
	MatchedDomain string     `json:"matchedDomain"`
	Distance      int        `json:"distance"`
	DeviceType    DeviceType `json:"deviceType"`
	Timestamp     time.Time  `json:"timestamp"`
}

type MonitoringAction string

const (
	ActionScreenshot   MonitoringAction = "screenshot"
	ActionURLLogging   MonitoringAction = "url_logging"
	ActionTimeTracking MonitoringAction = "time_tracking"
	ActionNotification MonitoringAction = "notification"
	ActionAnalytics    MonitoringAction = "analytics"
	ActionAll          MonitoringAction = "all"
)

var MonitoringActions = []MonitoringAction{
	ActionScreenshot, ActionURLLogging, ActionTimeTracking, ActionNotification, ActionAnalytics, ActionAll,
}

func ParseMonitoringAction(s string) (MonitoringAction, bool) {
	for _, a := range MonitoringActions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const ReasonCrisisResource = "crisis_resource"

// BlockingDecision lives in memory only. TriggerURL is redacted from every
// printable or serialized form so it cannot leak through a log line or a
// response body by accident.
type BlockingDecision struct {
	Action     MonitoringAction
	Blocked    bool
	Reason     string
	TriggerURL string
}

func (d BlockingDecision) String() string {
	return fmt.Sprintf("BlockingDecision{action=%s blocked=%t}", d.Action, d.Blocked)
}

func (d BlockingDecision) GoString() string { return d.String() }

func (d BlockingDecision) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Action  MonitoringAction `json:"action"`
		Blocked bool             `json:"blocked"`
	}{d.Action, d.Blocked})
}

// AllowlistDocument is the body of the public allowlist endpoint: the base
// release plus any emergency overrides still in effect.
type AllowlistDocument struct {
	Allowlist
	Overrides []EmergencyOverrideEntry `json:"overrides,omitempty"`
}

// MissCount aggregates fuzzy-match logs for allowlist improvement.
type MissCount struct {
	InputDomain   string `json:"inputDomain"`
	MatchedDomain string `json:"matchedDomain"`
	Distance      int    `json:"distance"`
	Count         int64  `json:"count"`
}
