package httpapi

import (
	"time"

	"github.com/beadhub/beadhub/internal/bootstrap"
	"github.com/beadhub/beadhub/internal/model"
	"github.com/beadhub/beadhub/internal/status"
)

// Every internal/model struct but BeadRef lacks json tags, so the wire
// shapes live here rather than on the model types themselves.

type workspaceDTO struct {
	WorkspaceID   string     `json:"workspace_id"`
	ProjectID     string     `json:"project_id"`
	RepoID        *string    `json:"repo_id,omitempty"`
	Alias         string     `json:"alias"`
	HumanName     string     `json:"human_name,omitempty"`
	Role          string     `json:"role,omitempty"`
	Hostname      string     `json:"hostname,omitempty"`
	WorkspacePath string     `json:"workspace_path,omitempty"`
	Type          string     `json:"workspace_type"`
	CurrentBranch string     `json:"current_branch,omitempty"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	FocusApexBead *string    `json:"focus_apex_bead_id,omitempty"`
	FocusApexRepo *string    `json:"focus_apex_repo_name,omitempty"`
	FocusBranch   *string    `json:"focus_apex_branch,omitempty"`
	FocusType     *string    `json:"focus_apex_type,omitempty"`
	FocusUpdated  *time.Time `json:"focus_updated_at,omitempty"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

func newWorkspaceDTO(w model.Workspace) workspaceDTO {
	return workspaceDTO{
		WorkspaceID:   w.WorkspaceID,
		ProjectID:     w.ProjectID,
		RepoID:        w.RepoID,
		Alias:         w.Alias,
		HumanName:     w.HumanName,
		Role:          w.Role,
		Hostname:      w.Hostname,
		WorkspacePath: w.WorkspacePath,
		Type:          string(w.Type),
		CurrentBranch: w.CurrentBranch,
		LastSeenAt:    w.LastSeenAt,
		FocusApexBead: w.FocusApexBeadID,
		FocusApexRepo: w.FocusApexRepoName,
		FocusBranch:   w.FocusApexBranch,
		FocusType:     w.FocusApexType,
		FocusUpdated:  w.FocusUpdatedAt,
		DeletedAt:     w.DeletedAt,
	}
}

func newWorkspaceDTOs(ws []model.Workspace) []workspaceDTO {
	out := make([]workspaceDTO, len(ws))
	for i, w := range ws {
		out[i] = newWorkspaceDTO(w)
	}
	return out
}

type claimDTO struct {
	ProjectID   string    `json:"project_id"`
	BeadID      string    `json:"bead_id"`
	WorkspaceID string    `json:"workspace_id"`
	Alias       string    `json:"alias"`
	HumanName   string    `json:"human_name,omitempty"`
	ApexBeadID  string    `json:"apex_bead_id,omitempty"`
	ApexRepo    string    `json:"apex_repo_name,omitempty"`
	ApexBranch  string    `json:"apex_branch,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

func newClaimDTO(c model.Claim) claimDTO {
	return claimDTO{
		ProjectID:   c.ProjectID,
		BeadID:      c.BeadID,
		WorkspaceID: c.WorkspaceID,
		Alias:       c.Alias,
		HumanName:   c.HumanName,
		ApexBeadID:  c.ApexBeadID,
		ApexRepo:    c.ApexRepo,
		ApexBranch:  c.ApexBranch,
		ClaimedAt:   c.ClaimedAt,
	}
}

func newClaimDTOs(cs []model.Claim) []claimDTO {
	out := make([]claimDTO, len(cs))
	for i, c := range cs {
		out[i] = newClaimDTO(c)
	}
	return out
}

type beadDTO struct {
	ProjectID   string         `json:"project_id"`
	Repo        string         `json:"repo"`
	Branch      string         `json:"branch"`
	BeadID      string         `json:"bead_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Priority    int            `json:"priority"`
	IssueType   string         `json:"issue_type,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	BlockedBy   []model.BeadRef `json:"blocked_by,omitempty"`
	ParentID    *model.BeadRef  `json:"parent_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	SyncedAt    time.Time      `json:"synced_at"`
}

func newBeadDTO(b model.Bead) beadDTO {
	return beadDTO{
		ProjectID: b.ProjectID, Repo: b.Repo, Branch: b.Branch, BeadID: b.BeadID,
		Title: b.Title, Description: b.Description, Status: string(b.Status),
		Priority: b.Priority, IssueType: string(b.IssueType), Assignee: b.Assignee,
		CreatedBy: b.CreatedBy, Labels: b.Labels, BlockedBy: b.BlockedBy, ParentID: b.ParentID,
		CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt, SyncedAt: b.SyncedAt,
	}
}

func newBeadDTOs(bs []model.Bead) []beadDTO {
	out := make([]beadDTO, len(bs))
	for i, b := range bs {
		out[i] = newBeadDTO(b)
	}
	return out
}

type escalationDTO struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	WorkspaceID  string     `json:"workspace_id"`
	Alias        string     `json:"alias"`
	MemberEmail  *string    `json:"member_email,omitempty"`
	Subject      string     `json:"subject"`
	Situation    string     `json:"situation"`
	Options      []string   `json:"options,omitempty"`
	Status       string     `json:"status"`
	Response     *string    `json:"response,omitempty"`
	ResponseNote *string    `json:"response_note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func newEscalationDTO(e model.Escalation) escalationDTO {
	return escalationDTO{
		ID: e.ID, ProjectID: e.ProjectID, WorkspaceID: e.WorkspaceID, Alias: e.Alias,
		MemberEmail: e.MemberEmail, Subject: e.Subject, Situation: e.Situation,
		Options: e.Options, Status: string(e.Status), Response: e.Response,
		ResponseNote: e.ResponseNote, CreatedAt: e.CreatedAt, RespondedAt: e.RespondedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func newEscalationDTOs(es []model.Escalation) []escalationDTO {
	out := make([]escalationDTO, len(es))
	for i, e := range es {
		out[i] = newEscalationDTO(e)
	}
	return out
}

type subscriptionDTO struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	WorkspaceID string    `json:"workspace_id"`
	BeadID      string    `json:"bead_id"`
	Repo        *string   `json:"repo,omitempty"`
	EventTypes  []string  `json:"event_types"`
	CreatedAt   time.Time `json:"created_at"`
}

func newSubscriptionDTO(s model.Subscription) subscriptionDTO {
	return subscriptionDTO{
		ID: s.ID, ProjectID: s.ProjectID, WorkspaceID: s.WorkspaceID, BeadID: s.BeadID,
		Repo: s.Repo, EventTypes: s.EventTypes, CreatedAt: s.CreatedAt,
	}
}

func newSubscriptionDTOs(ss []model.Subscription) []subscriptionDTO {
	out := make([]subscriptionDTO, len(ss))
	for i, s := range ss {
		out[i] = newSubscriptionDTO(s)
	}
	return out
}

type initResponseDTO struct {
	APIKey      string `json:"api_key"`
	AgentID     string `json:"agent_id"`
	ProjectID   string `json:"project_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Alias       string `json:"alias"`
}

func newInitResponseDTO(r bootstrap.Result) initResponseDTO {
	return initResponseDTO{
		APIKey: r.APIKey, AgentID: r.AgentID, ProjectID: r.ProjectID,
		WorkspaceID: r.WorkspaceID, Alias: r.Alias,
	}
}

type agentStatusDTO struct {
	Workspace    workspaceDTO `json:"workspace"`
	Presence     any          `json:"presence,omitempty"`
	CurrentIssue string       `json:"current_issue,omitempty"`
}

type claimViewDTO struct {
	claimDTO
	BeadTitle     string `json:"bead_title,omitempty"`
	ClaimantCount int    `json:"claimant_count"`
}

type conflictDTO struct {
	BeadID    string     `json:"bead_id"`
	Claimants []claimDTO `json:"claimants"`
}

type statusResponseDTO struct {
	Agents             []agentStatusDTO `json:"agents"`
	Claims             []claimViewDTO   `json:"claims"`
	Conflicts          []conflictDTO    `json:"conflicts"`
	EscalationsPending int              `json:"escalations_pending"`
	PublicReader       bool             `json:"public_reader,omitempty"`
}

func newStatusResponseDTO(r status.Response) statusResponseDTO {
	agents := make([]agentStatusDTO, len(r.Agents))
	for i, a := range r.Agents {
		var presence any
		if a.Presence != nil {
			presence = *a.Presence
		}
		agents[i] = agentStatusDTO{
			Workspace:    newWorkspaceDTO(a.Workspace),
			Presence:     presence,
			CurrentIssue: a.CurrentIssue,
		}
	}
	claims := make([]claimViewDTO, len(r.Claims))
	for i, c := range r.Claims {
		claims[i] = claimViewDTO{claimDTO: newClaimDTO(c.Claim), BeadTitle: c.BeadTitle, ClaimantCount: c.ClaimantCount}
	}
	conflicts := make([]conflictDTO, len(r.Conflicts))
	for i, c := range r.Conflicts {
		conflicts[i] = conflictDTO{BeadID: c.BeadID, Claimants: newClaimDTOs(c.Claimants)}
	}
	return statusResponseDTO{
		Agents: agents, Claims: claims, Conflicts: conflicts,
		EscalationsPending: r.EscalationsPending, PublicReader: r.PublicReader,
	}
}
