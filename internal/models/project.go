package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Project struct {
	Name      string    `json:"name"`
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectUUID derives a stable identifier from the project name, so the same
// project gets the same UUID on every node and every re-import.
func ProjectUUID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("taskcore::"+name)).String()
}

type AuditEntry struct {
	ID      int64           `json:"id"`
	Action  string          `json:"action"`
	Actor   string          `json:"actor"`
	TaskID  string          `json:"task_id"`
	Version int             `json:"version"`
	Before  json.RawMessage `json:"before,omitempty"`
	After   json.RawMessage `json:"after,omitempty"`
	At      time.Time       `json:"at"`
}
