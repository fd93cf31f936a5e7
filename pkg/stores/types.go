package stores

import "time"

// RunRecord is the persisted summary of one simulation run.
type RunRecord struct {
	ID              string
	SubscriptionID  string
	SourceGroup     string
	TargetGroup     string
	Classification  string
	AssignmentCount int
	PolicyCount     int
	ResourceCount   int
	ViolationCount  int
	StartedAt       time.Time
	CompletedAt     time.Time
	CreatedAt       time.Time
}

// FindingRecord is one persisted (resource, policy) evaluation row.
type FindingRecord struct {
	ID               int64
	RunID            string
	ResourceID       string
	ResourceName     string
	ResourceType     string
	ResourceLocation string
	AssignmentID     string
	AssignmentName   string
	PolicyID         string
	PolicyName       string
	ReferenceID      string
	RawEffect        string
	ResolvedEffect   string
	EffectTrail      string
	ComplianceState  string
	Violates         bool
	WaiverStatus     string
	ExemptionName    string
}
