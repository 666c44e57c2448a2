package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beadhub/beadhub/internal/style"
)

var (
	statusServerURL string
	statusAPIKey    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current agent/claim status for a project",
	Long: `status calls a running beadhub server's GET /v1/status and renders
the agent, claim, and conflict tables it returns. Point it at a
different deployment with --server or BEADHUB_SERVER.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusServerURL, "server", "http://localhost:8080", "beadhub server base URL (defaults to BEADHUB_SERVER if set)")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", "", "bearer API key (defaults to BEADHUB_API_KEY)")
}

// statusResponse mirrors the wire shape of GET /v1/status; it is defined
// here rather than imported from internal/httpapi because a CLI client
// should decode only the fields it renders, not couple to the server's
// internal DTO types.
type statusResponse struct {
	Agents []struct {
		Workspace struct {
			WorkspaceID   string `json:"workspace_id"`
			Alias         string `json:"alias"`
			Type          string `json:"workspace_type"`
			CurrentBranch string `json:"current_branch"`
		} `json:"workspace"`
		CurrentIssue string `json:"current_issue"`
	} `json:"agents"`
	Claims []struct {
		BeadID        string    `json:"bead_id"`
		WorkspaceID   string    `json:"workspace_id"`
		Alias         string    `json:"alias"`
		BeadTitle     string    `json:"bead_title"`
		ClaimantCount int       `json:"claimant_count"`
		ClaimedAt     time.Time `json:"claimed_at"`
	} `json:"claims"`
	Conflicts []struct {
		BeadID    string `json:"bead_id"`
		Claimants []struct {
			Alias string `json:"alias"`
		} `json:"claimants"`
	} `json:"conflicts"`
	EscalationsPending int `json:"escalations_pending"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	key := statusAPIKey
	if key == "" {
		key = os.Getenv("BEADHUB_API_KEY")
	}

	server := statusServerURL
	if !cmd.Flags().Changed("server") {
		if fromEnv := os.Getenv("BEADHUB_SERVER"); fromEnv != "" {
			server = fromEnv
		}
	}

	st, err := fetchStatus(cmd.Context(), server, key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "AGENTS")
	agents := style.NewTable(
		style.Column{Name: "WORKSPACE", Width: 20},
		style.Column{Name: "ALIAS", Width: 16},
		style.Column{Name: "TYPE", Width: 10},
		style.Column{Name: "BRANCH", Width: 20},
		style.Column{Name: "CURRENT ISSUE", Width: 16},
	)
	for _, a := range st.Agents {
		agents.AddRow(a.Workspace.WorkspaceID, a.Workspace.Alias, a.Workspace.Type, a.Workspace.CurrentBranch, a.CurrentIssue)
	}
	fmt.Fprint(out, agents.Render())

	fmt.Fprintln(out, "\nCLAIMS")
	claims := style.NewTable(
		style.Column{Name: "BEAD", Width: 16},
		style.Column{Name: "TITLE", Width: 30},
		style.Column{Name: "HOLDER", Width: 16},
		style.Column{Name: "CLAIMANTS", Width: 9, Align: style.AlignRight},
	)
	for _, c := range st.Claims {
		claims.AddRow(c.BeadID, c.BeadTitle, c.Alias, fmt.Sprint(c.ClaimantCount))
	}
	fmt.Fprint(out, claims.Render())

	if len(st.Conflicts) > 0 {
		fmt.Fprintln(out, "\nCONFLICTS")
		conflicts := style.NewTable(
			style.Column{Name: "BEAD", Width: 16},
			style.Column{Name: "CLAIMANTS", Width: 40},
		)
		for _, c := range st.Conflicts {
			names := make([]string, len(c.Claimants))
			for i, cl := range c.Claimants {
				names[i] = cl.Alias
			}
			conflicts.AddRow(c.BeadID, strings.Join(names, ", "))
		}
		fmt.Fprint(out, conflicts.Render())
	}

	fmt.Fprintf(out, "\n%d escalation(s) pending\n", st.EscalationsPending)
	return nil
}

// fetchStatus calls GET /v1/status on serverURL, the same
// baseURL+bearer-token shape the teacher's internal/rpcclient.Client uses
// against gtmobile, sized down to the one JSON endpoint this CLI needs.
func fetchStatus(ctx context.Context, serverURL, apiKey string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return nil, fmt.Errorf("status request failed (%d): %s", resp.StatusCode, detail.Detail)
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &st, nil
}
