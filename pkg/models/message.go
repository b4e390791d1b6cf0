package models

// Role identifies which party of a support thread performed an action.
// Exactly two roles exist: the tenant who owns the thread and the single
// operator identity shared across all threads.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleOperator Role = "operator"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool { return r == RoleTenant || r == RoleOperator }

// Opposite returns the other party's role.
func (r Role) Opposite() Role {
	if r == RoleTenant {
		return RoleOperator
	}
	return RoleTenant
}

// Message is one entry in a tenant's support thread. A message is
// immutable once appended except for the two read flags, which each flip
// only false->true and only by their own role's reconciler.
type Message struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	SenderRole     Role   `json:"sender_role"`
	Body           string `json:"body"`
	CreatedAt      int64  `json:"created_at"` // unix nanoseconds, monotonic per thread
	ReadByTenant   bool   `json:"read_by_tenant"`
	ReadByOperator bool   `json:"read_by_operator"`
}

// ReadBy reports whether the given role has read the message.
func (m Message) ReadBy(r Role) bool {
	if r == RoleTenant {
		return m.ReadByTenant
	}
	return m.ReadByOperator
}

// SetRead marks the message read for the given role. The transition is
// monotonic; there is no way to clear a read flag.
func (m *Message) SetRead(r Role) {
	if r == RoleTenant {
		m.ReadByTenant = true
		return
	}
	m.ReadByOperator = true
}

// ThreadSummary is one row of the operator's multiplexed overview. It is
// a derived view of the message set: the unread counters are a cache that
// must equal the count of messages whose corresponding read flag is false.
type ThreadSummary struct {
	TenantID          string `json:"tenant_id"`
	LastMessageAt     int64  `json:"last_message_at"`
	UnreadForOperator int    `json:"unread_for_operator"`
	UnreadForTenant   int    `json:"unread_for_tenant"`
}
