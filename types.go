package healauth

import (
	"context"
	"io"

	internalaudit "github.com/healbridge/healauth/internal/audit"
)

// Role identifies one of the fixed marketplace account classes.
//
// Role instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Role string

const (
	// RolePatient is an exported constant or variable used by the authentication engine.
	RolePatient Role = "patient"
	// RoleDoctor is an exported constant or variable used by the authentication engine.
	RoleDoctor Role = "doctor"
	// RolePharmacy is an exported constant or variable used by the authentication engine.
	RolePharmacy Role = "pharmacy"
	// RoleLaboratory is an exported constant or variable used by the authentication engine.
	RoleLaboratory Role = "laboratory"
	// RoleNurse is an exported constant or variable used by the authentication engine.
	RoleNurse Role = "nurse"
	// RoleAdmin is an exported constant or variable used by the authentication engine.
	RoleAdmin Role = "admin"
)

// Roles lists every valid role in declaration order.
func Roles() []Role {
	return []Role{RolePatient, RoleDoctor, RolePharmacy, RoleLaboratory, RoleNurse, RoleAdmin}
}

// Valid reports whether r is one of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePharmacy, RoleLaboratory, RoleNurse, RoleAdmin:
		return true
	}
	return false
}

// ApprovalGated reports whether accounts of this role require administrative
// approval before they may authenticate.
func (r Role) ApprovalGated() bool {
	switch r {
	case RoleDoctor, RolePharmacy, RoleLaboratory, RoleNurse:
		return true
	}
	return false
}

// Principal is the identity a verified token refers to.
//
// Principal instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Principal struct {
	SubjectID string
	Role      Role
}

// UserRecord is the account record returned by [DirectoryAdapter] lookups.
// The engine reads it to gate authentication; it never persists it.
type UserRecord struct {
	ID       string
	Role     Role
	Phone    string
	Email    string
	Active   bool
	Approved bool
}

// DirectoryAdapter is the per-role user-record lookup the embedding
// application must implement. A (nil, nil) return means no matching record;
// a non-nil error means the backing store failed.
//
//	Docs: docs/directory.md
type DirectoryAdapter interface {
	FindByPhone(ctx context.Context, phone string) (*UserRecord, error)
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)

	// SetPassword stores a new password for the given user. Hashing is owned
	// by the directory, not by this engine.
	SetPassword(ctx context.Context, id, newPassword string) error
}

// Directory maps each role to its backing record store. It is constructed
// explicitly at startup and passed to [Builder.WithDirectory]; the engine
// never mutates it.
type Directory map[Role]DirectoryAdapter

func (d Directory) adapter(role Role) (DirectoryAdapter, bool) {
	a, ok := d[role]
	return a, ok && a != nil
}

// Notifier delivers one-time codes out of band. Calls are best-effort from
// the engine's perspective: a delivery failure is audited but never fails the
// flow that stored the challenge.
type Notifier interface {
	SendOTPSMS(ctx context.Context, phone, code string, role Role) error
	SendOTPEmail(ctx context.Context, email, code string, role Role) error
}

// NoOpNotifier drops all notifications. Useful in tests and in non-production
// modes where the fixed OTP code is known out of band.
type NoOpNotifier struct{}

// SendOTPSMS implements [Notifier].
func (NoOpNotifier) SendOTPSMS(context.Context, string, string, Role) error { return nil }

// SendOTPEmail implements [Notifier].
func (NoOpNotifier) SendOTPEmail(context.Context, string, string, Role) error { return nil }

// TokenPair is returned by [Engine.IssueTokens] and [Engine.Refresh].
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
