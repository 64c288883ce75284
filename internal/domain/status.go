package domain

import (
	"time"

	"github.com/google/uuid"
)

type ImportStatus string

const (
	StatusPending    ImportStatus = "PENDING"
	StatusProcessing ImportStatus = "PROCESSING"
	StatusCompleted  ImportStatus = "COMPLETED"
	StatusFailed     ImportStatus = "FAILED"
)

// StatusEvent is one point-in-time progress update for an import under
// processing. ImportID groups events for observers that do not yet know the
// note id (a bulk import still in flight); NoteID correlates the event to a
// persisted note once one exists.
type StatusEvent struct {
	ID           uuid.UUID              `json:"id,omitempty"`
	ImportID     uuid.UUID              `json:"importId"`
	NoteID       *uuid.UUID             `json:"noteId,omitempty"`
	Status       ImportStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Context      string                 `json:"context,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CurrentCount int                    `json:"currentCount,omitempty"`
	TotalCount   int                    `json:"totalCount,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	IndentLevel  int                    `json:"indentLevel,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Observer wire protocol message types.
const (
	WSTypeStatusUpdate          = "status_update"
	WSTypeConnectionEstablished = "connection_established"
	WSTypePing                  = "ping"
	WSTypePong                  = "pong"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}
