// Package issuesync implements the IssueSyncEngine from spec.md §4.5: JSONL
// ingestion (full and incremental), parsing safety limits, optimistic
// locking against the database's updated_at, and status-change emission.
package issuesync

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beadhub/beadhub/internal/apierr"
	"github.com/beadhub/beadhub/internal/model"
)

// Safety limits enforced by ParseJSONL (spec.md §4.5).
const (
	MaxBodyBytes  = 10 * 1024 * 1024
	MaxEntries    = 10_000
	MaxNestDepth  = 10
)

// IssueRecord is one line of a sync request's JSONL body.
type IssueRecord struct {
	BeadID      string          `json:"bead_id"`
	Repo        string          `json:"repo"`
	Branch      string          `json:"branch"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Priority    int             `json:"priority"`
	IssueType   string          `json:"issue_type"`
	Assignee    string          `json:"assignee"`
	CreatedBy   string          `json:"created_by"`
	Labels      []string        `json:"labels"`
	BlockedBy   []model.BeadRef `json:"blocked_by"`
	ParentID    *model.BeadRef  `json:"parent_id"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ParseJSONL decodes a newline-delimited JSON body into IssueRecords,
// enforcing a total size cap, an entry-count cap, and a per-entry nesting
// depth cap measured by a structural token walk (not recursive descent, so
// a pathologically deep entry can never exhaust the call stack).
func ParseJSONL(body []byte) ([]IssueRecord, error) {
	if len(body) > MaxBodyBytes {
		return nil, apierr.Formatf("sync body exceeds %d byte limit", MaxBodyBytes)
	}

	var records []IssueRecord
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxBodyBytes)
	lineNum := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lineNum++
		if lineNum > MaxEntries {
			return nil, apierr.Formatf("sync body exceeds %d entry limit", MaxEntries)
		}

		depth, err := jsonMaxDepth(line)
		if err != nil {
			return nil, apierr.Formatf("malformed JSON on line %d: %v", lineNum, err)
		}
		if depth > MaxNestDepth {
			return nil, apierr.Formatf("line %d exceeds max nesting depth %d", lineNum, MaxNestDepth)
		}

		var rec IssueRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, apierr.Formatf("malformed JSON on line %d: %v", lineNum, err)
		}
		if rec.BeadID == "" {
			return nil, apierr.Formatf("line %d missing bead_id", lineNum)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, apierr.Formatf("reading sync body: %v", err)
	}
	return records, nil
}

// jsonMaxDepth walks the token stream of one JSON value and returns the
// deepest nesting level reached, without recursing — depth is tracked on an
// explicit counter driven by object/array open and close tokens.
func jsonMaxDepth(raw []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	depth, max := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("tokenizing: %w", err)
		}
		switch tok.(type) {
		case json.Delim:
			d := tok.(json.Delim)
			switch d {
			case '{', '[':
				depth++
				if depth > max {
					max = depth
				}
			case '}', ']':
				depth--
			}
		}
	}
	return max, nil
}

// beadRefKey formats a BeadRef for title-lookup/display purposes.
func beadRefKey(r model.BeadRef) string {
	var b strings.Builder
	b.WriteString(r.Repo)
	b.WriteByte('@')
	b.WriteString(r.Branch)
	b.WriteByte('#')
	b.WriteString(r.BeadID)
	return b.String()
}
