// Package rpc exposes the planning engine over a Unix-socket,
// newline-delimited JSON protocol. One request per line, one response
// per line.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/trellisplan/trellis/internal/types"
)

// Operation names.
const (
	OpPing     = "ping"
	OpHealth   = "health"
	OpShutdown = "shutdown"

	OpCreateObject           = "createObject"
	OpGetObject              = "getObject"
	OpUpdateObject           = "updateObject"
	OpDeleteObject           = "deleteObject"
	OpClaimNextTask          = "claimNextTask"
	OpCompleteTask           = "completeTask"
	OpGetNextReviewableTask  = "getNextReviewableTask"
	OpListBacklog            = "listBacklog"
	OpGetCompletedObjects    = "getCompletedObjects"
)

// Request is one RPC request from client to server.
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args"`
	Actor         string          `json:"actor,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
}

// ErrorPayload is the sanitized error shape on the wire.
type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// Response is one RPC response from server to client.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// CreateObjectArgs creates a new planning object. Kind is inferred
// from the ID prefix.
type CreateObjectArgs struct {
	ProjectRoot   string   `json:"projectRoot"`
	ID            string   `json:"id"`
	Parent        string   `json:"parent,omitempty"`
	Title         string   `json:"title"`
	Status        string   `json:"status,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Worktree      string   `json:"worktree,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Body          string   `json:"body,omitempty"`
}

// GetObjectArgs fetches one object with its immediate children.
type GetObjectArgs struct {
	ProjectRoot string `json:"projectRoot"`
	ID          string `json:"id"`
}

// ObjectResult is the wire form of a planning object.
type ObjectResult struct {
	Kind          types.Kind     `json:"kind"`
	ID            string         `json:"id"`
	Parent        string         `json:"parent,omitempty"`
	Status        types.Status   `json:"status"`
	Title         string         `json:"title"`
	Priority      types.Priority `json:"priority"`
	Worktree      string         `json:"worktree,omitempty"`
	Created       time.Time      `json:"created"`
	Updated       time.Time      `json:"updated"`
	SchemaVersion string         `json:"schema_version"`
	Prerequisites []string       `json:"prerequisites,omitempty"`
	Body          string         `json:"body"`
	FilePath      string         `json:"file_path"`

	Children []types.Child `json:"children,omitempty"`
}

// UpdateObjectArgs patches front-matter fields and/or the body.
type UpdateObjectArgs struct {
	ProjectRoot string         `json:"projectRoot"`
	ID          string         `json:"id"`
	Fields      map[string]any `json:"fields,omitempty"`
	Body        *string        `json:"body,omitempty"`
}

// DeleteObjectArgs removes an object; containers cascade to their
// descendants.
type DeleteObjectArgs struct {
	ProjectRoot string `json:"projectRoot"`
	ID          string `json:"id"`
}

// DeleteObjectResult reports what was removed.
type DeleteObjectResult struct {
	ID      string `json:"id"`
	Cascade bool   `json:"cascade"`
}

// ClaimNextTaskArgs claims one task. Scope and TaskID are mutually
// exclusive; ForceClaim requires TaskID.
type ClaimNextTaskArgs struct {
	ProjectRoot string `json:"projectRoot"`
	Scope       string `json:"scope,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
	ForceClaim  bool   `json:"force_claim,omitempty"`
	Worktree    string `json:"worktree,omitempty"`
}

// ClaimNextTaskResult reports the claimed task.
type ClaimNextTaskResult struct {
	Task   ObjectResult `json:"task"`
	Forced bool         `json:"forced,omitempty"`
}

// CompleteTaskArgs completes one task.
type CompleteTaskArgs struct {
	ProjectRoot  string   `json:"projectRoot"`
	TaskID       string   `json:"taskId"`
	Summary      string   `json:"summary,omitempty"`
	FilesChanged []string `json:"filesChanged,omitempty"`
}

// CompleteTaskResult reports the completed task's resting place.
type CompleteTaskResult struct {
	Task        ObjectResult `json:"task"`
	FilePath    string       `json:"file_path"`
	AlreadyDone bool         `json:"already_done,omitempty"`
}

// GetNextReviewableTaskArgs queries the oldest task in review.
type GetNextReviewableTaskArgs struct {
	ProjectRoot string `json:"projectRoot"`
	Scope       string `json:"scope,omitempty"`
}

// ListBacklogArgs filters tasks by scope, status and priority.
type ListBacklogArgs struct {
	ProjectRoot string   `json:"projectRoot"`
	Scope       string   `json:"scope,omitempty"`
	Status      []string `json:"status,omitempty"`
	Priority    []string `json:"priority,omitempty"`
}

// ListBacklogResult is the ordered task listing.
type ListBacklogResult struct {
	Tasks []ObjectResult `json:"tasks"`
}

// GetCompletedObjectsArgs scans for done descendants of an object.
type GetCompletedObjectsArgs struct {
	ProjectRoot string `json:"projectRoot"`
	ID          string `json:"id"`
}

// CompletedObject is one done descendant with its completion time.
type CompletedObject struct {
	Object    ObjectResult `json:"object"`
	Completed time.Time    `json:"completed"`
}

// GetCompletedObjectsResult lists done descendants, newest completion
// first.
type GetCompletedObjectsResult struct {
	Objects []CompletedObject `json:"objects"`
}

// PingResponse answers a ping.
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse reports server liveness and load.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	ClientVersion string  `json:"client_version,omitempty"`
	Compatible    bool    `json:"compatible"`
	Uptime        float64 `json:"uptime_seconds"`
	ActiveConns   int32   `json:"active_connections"`
	MaxConns      int     `json:"max_connections"`
	CacheHits     uint64  `json:"cache_hits"`
	CacheMisses   uint64  `json:"cache_misses"`
	Error         string  `json:"error,omitempty"`
}
