package core

import (
	"fmt"
	"strings"
	"time"
)

// AlertKind identifies which detection produced an alert
type AlertKind string

const (
	// AlertDirectUntrustedAccess is raised when an untrusted process touches a
	// protected path through a file object it opened itself
	AlertDirectUntrustedAccess AlertKind = "DirectUntrustedAccess"
	// AlertAccessViaDuplicatedHandle is raised when an untrusted process uses a
	// file object that a trusted process opened
	AlertAccessViaDuplicatedHandle AlertKind = "AccessViaDuplicatedHandle"
)

// NotificationTitle is the fixed title of desktop notifications
const NotificationTitle = "TITAN Operative Alert"

// AlertKey is the suppression identity of an alert
type AlertKey struct {
	PID      uint32
	RuleName string
	Path     string
}

// AlertRecord is the immutable alert handed to sinks
type AlertRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	PID         uint32    `json:"pid"`
	ImagePath   string    `json:"image_path"`
	TargetPath  string    `json:"target_path"`
	RuleName    string    `json:"rule_name"`
	EventID     uint32    `json:"event_id"`
	Kind        AlertKind `json:"alert_kind"`
	Note        string    `json:"note"`
	OpenerPID   uint32    `json:"opener_pid,omitempty"`
	OpenerImage string    `json:"opener_image,omitempty"`
	Operation   IOOp      `json:"operation,omitempty"`
}

// Key returns the suppression key of the record
func (a *AlertRecord) Key() AlertKey {
	return AlertKey{PID: a.PID, RuleName: a.RuleName, Path: a.TargetPath}
}

// TextLine renders the fixed-field human readable form used by the text log
// and the console sink.
func (a *AlertRecord) TextLine() string {
	return fmt.Sprintf("%s | pid=%d | image=%s | target=%s | rule=%s | event=%d | kind=%s | note=%s",
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		a.PID,
		a.ImagePath,
		a.TargetPath,
		a.RuleName,
		a.EventID,
		a.Kind,
		a.Note,
	)
}

// Headline is the short notification title, e.g. "stealer.exe accessed Chrome Passwords"
func (a *AlertRecord) Headline() string {
	exe := ImageBaseName(a.ImagePath)
	if exe == "" {
		exe = fmt.Sprintf("pid %d", a.PID)
	}
	verb := "touched"
	if a.Operation == OpCreate || a.Operation == OpOpen || a.EventID == EventIDFileCreate {
		verb = "accessed"
	}
	return fmt.Sprintf("%s %s %s", exe, verb, a.RuleName)
}

// Body is the notification body text
func (a *AlertRecord) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PID %d\n%s", a.PID, a.TargetPath)
	if a.Kind == AlertAccessViaDuplicatedHandle && a.OpenerPID != 0 {
		fmt.Fprintf(&b, "\nvia handle from PID %d (%s)", a.OpenerPID, ImageBaseName(a.OpenerImage))
	}
	return b.String()
}
