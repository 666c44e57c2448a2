// Package model defines the entities in BeadHub's data model (spec.md §3),
// shared by the storage, claim, sync, and HTTP layers to avoid import
// cycles between them.
package model

import "time"

// WorkspaceType distinguishes agent workspaces from dashboard observers.
type WorkspaceType string

const (
	WorkspaceAgent     WorkspaceType = "agent"
	WorkspaceDashboard WorkspaceType = "dashboard"
)

// BeadStatus is a bead's lifecycle state.
type BeadStatus string

const (
	StatusOpen       BeadStatus = "open"
	StatusInProgress BeadStatus = "in_progress"
	StatusClosed     BeadStatus = "closed"
)

// IssueType categorizes a bead.
type IssueType string

const (
	IssueBug     IssueType = "bug"
	IssueFeature IssueType = "feature"
	IssueTask    IssueType = "task"
	IssueEpic    IssueType = "epic"
	IssueChore   IssueType = "chore"
)

// AgentLifetime describes whether an agent identity persists across
// sessions or is torn down with its workspace.
type AgentLifetime string

const (
	LifetimePersistent AgentLifetime = "persistent"
	LifetimeEphemeral  AgentLifetime = "ephemeral"
)

// AgentCustody describes who holds an agent's signing key.
type AgentCustody string

const (
	CustodySelf      AgentCustody = "self"
	CustodyCustodial AgentCustody = "custodial"
)

// EscalationStatus tracks an escalation's lifecycle.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationResponded EscalationStatus = "responded"
	EscalationExpired   EscalationStatus = "expired"
)

// Project is the tenant boundary. All data is project-scoped.
type Project struct {
	ProjectID      string
	Slug           string
	TenantID       *string
	ActivePolicyID *string
	Public         bool
	DeletedAt      *time.Time
}

// Repo is a Git repository tracked within a project.
type Repo struct {
	RepoID          string
	ProjectID       string
	CanonicalOrigin string
	OriginURL       string
	Name            string
	DeletedAt       *time.Time
}

// BeadRef is a reference to a bead in another repo/branch, used for
// parent_id and blocked_by entries.
type BeadRef struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	BeadID string `json:"bead_id"`
}

// Workspace is a place where one agent operates.
type Workspace struct {
	WorkspaceID  string // == AgentID for agent-type workspaces
	ProjectID    string
	RepoID       *string
	Alias        string
	HumanName    string
	Role         string
	Hostname     string
	WorkspacePath string
	Type         WorkspaceType
	CurrentBranch string

	LastSeenAt time.Time

	FocusApexBeadID   *string
	FocusApexRepoName *string
	FocusApexBranch   *string
	FocusApexType     *string
	FocusUpdatedAt    *time.Time

	DeletedAt *time.Time
}

// Agent is an identity capable of authenticating and acting on a project's
// behalf.
type Agent struct {
	AgentID       string
	ProjectID     string
	Alias         string
	HumanName     string
	AgentType     string
	Lifetime      AgentLifetime
	Custody       AgentCustody
	DID           string
	Status        string
	AccessMode    string
	DeletedAt     *time.Time
	SigningKeyEnc []byte
}

// APIKey is a bearer-token credential bound to an agent.
type APIKey struct {
	KeyID     string
	ProjectID string
	AgentID   string
	KeyPrefix string
	KeyHash   string
	IsActive  bool
}

// Bead is a tracked issue.
type Bead struct {
	ProjectID   string
	Repo        string
	Branch      string
	BeadID      string
	Title       string
	Description string
	Status      BeadStatus
	Priority    int
	IssueType   IssueType
	Assignee    string
	CreatedBy   string
	Labels      []string
	BlockedBy   []BeadRef
	ParentID    *BeadRef
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncedAt    time.Time
}

// Claim is an exclusive (project, bead, workspace) assertion.
type Claim struct {
	ProjectID   string
	BeadID      string
	WorkspaceID string
	Alias       string
	HumanName   string
	ApexBeadID  string
	ApexRepo    string
	ApexBranch  string
	ApexType    string
	ClaimedAt   time.Time
}

// Subscription is a per-bead notification registration.
type Subscription struct {
	ID          string
	ProjectID   string
	WorkspaceID string
	BeadID      string
	Repo        *string
	EventTypes  []string
	CreatedAt   time.Time
}

// Escalation is an agent's request for human input.
type Escalation struct {
	ID            string
	ProjectID     string
	WorkspaceID   string
	Alias         string
	MemberEmail   *string
	Subject       string
	Situation     string
	Options       []string
	Status        EscalationStatus
	Response      *string
	ResponseNote  *string
	CreatedAt     time.Time
	RespondedAt   *time.Time
	ExpiresAt     *time.Time
}

// NotificationIntent is an outbox row recording one pending notification.
type NotificationIntent struct {
	ID                  int64
	ProjectID           string
	RecipientWorkspaceID string
	BeadID              string
	OldStatus           string
	NewStatus           string
	Title               string
	CreatedAt           time.Time
	ProcessedAt         *time.Time
	Attempts            int
	LastError           *string
}

// AuditLog records one mutating operation.
type AuditLog struct {
	ID          int64
	ProjectID   string
	WorkspaceID *string
	EventType   string
	Details     []byte // JSON
	CreatedAt   time.Time
}

// StatusChange is emitted by the issue sync engine whenever a bead's status
// field differs from what was previously stored.
type StatusChange struct {
	BeadID    string
	Repo      string
	Branch    string
	OldStatus string // empty if the bead was newly created
	NewStatus string
	Title     string
}
