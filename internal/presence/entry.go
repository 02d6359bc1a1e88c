package presence

import (
	"time"

	"github.com/example/staffplan/internal/docstore"
)

// Status is the connection status of a session.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// HoverRef is the cell a session is pointing at.
type HoverRef struct {
	CellID         string    `json:"cellId"`
	CollaboratorID string    `json:"collaboratorId"`
	Date           string    `json:"date"`
	At             time.Time `json:"at"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// LockRef is the cell a session holds.
type LockRef struct {
	CellID    string        `json:"cellId"`
	Kind      string        `json:"kind"`
	LockedAt  time.Time     `json:"lockedAt"`
	TTL       time.Duration `json:"ttl"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// Entry is one session row as seen by observers.
type Entry struct {
	UserID      string    `json:"userId"`
	SessionID   string    `json:"sessionId"`
	DisplayName string    `json:"displayName"`
	Status      Status    `json:"status"`
	State       State     `json:"state"`
	LastSeen    time.Time `json:"lastSeen"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Hover       *HoverRef `json:"hover,omitempty"`
	Lock        *LockRef  `json:"lock,omitempty"`
}

// Expired reports whether the session missed its heartbeats for timeout.
func (e Entry) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(e.LastSeen) > timeout
}

// ActiveHover returns the hover unless it has expired.
func (e Entry) ActiveHover(now time.Time) *HoverRef {
	if e.Hover == nil || !now.Before(e.Hover.ExpiresAt) {
		return nil
	}
	return e.Hover
}

// ActiveLock returns the lock unless it has expired.
func (e Entry) ActiveLock(now time.Time) *LockRef {
	if e.Lock == nil || !now.Before(e.Lock.ExpiresAt) {
		return nil
	}
	return e.Lock
}

func hoverData(h *HoverRef) any {
	if h == nil {
		return docstore.DeleteField
	}
	return map[string]any{
		"cellId":         h.CellID,
		"collaboratorId": h.CollaboratorID,
		"date":           h.Date,
		"at":             h.At.UnixMilli(),
		"expiresAt":      h.ExpiresAt.UnixMilli(),
	}
}

func lockData(l *LockRef) any {
	if l == nil {
		return docstore.DeleteField
	}
	return map[string]any{
		"cellId":    l.CellID,
		"kind":      l.Kind,
		"lockedAt":  l.LockedAt.UnixMilli(),
		"ttl":       l.TTL.Milliseconds(),
		"expiresAt": l.ExpiresAt.UnixMilli(),
	}
}

// EntryFromDocument decodes a session row.
func EntryFromDocument(doc docstore.Document) Entry {
	data := doc.Data
	entry := Entry{
		UserID:      docstore.String(data, "userId"),
		SessionID:   doc.ID,
		DisplayName: docstore.String(data, "displayName"),
		Status:      Status(docstore.String(data, "status")),
		State:       State(docstore.String(data, "state")),
		LastSeen:    time.UnixMilli(docstore.Int64(data, "lastSeen")),
		ExpiresAt:   time.UnixMilli(docstore.Int64(data, "expiresAt")),
	}
	if hover := docstore.Map(data, "hover"); hover != nil {
		entry.Hover = &HoverRef{
			CellID:         docstore.String(hover, "cellId"),
			CollaboratorID: docstore.String(hover, "collaboratorId"),
			Date:           docstore.String(hover, "date"),
			At:             time.UnixMilli(docstore.Int64(hover, "at")),
			ExpiresAt:      time.UnixMilli(docstore.Int64(hover, "expiresAt")),
		}
	}
	if lock := docstore.Map(data, "lock"); lock != nil {
		entry.Lock = &LockRef{
			CellID:    docstore.String(lock, "cellId"),
			Kind:      docstore.String(lock, "kind"),
			LockedAt:  time.UnixMilli(docstore.Int64(lock, "lockedAt")),
			TTL:       time.Duration(docstore.Int64(lock, "ttl")) * time.Millisecond,
			ExpiresAt: time.UnixMilli(docstore.Int64(lock, "expiresAt")),
		}
	}
	return entry
}
