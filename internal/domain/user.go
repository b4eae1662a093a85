package domain

// Role labels a user's position in the organization. Roles are labels only;
// no permission engine hangs off them.
type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleAgent      Role = "agent"
	RoleClient     Role = "client"
)

// User is the read-only mirror of an identity-provider account.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	AvatarURL     string `json:"avatarUrl"`
	Role          Role   `json:"role"`
	Status        string `json:"status"`
	Company       string `json:"company"`
	EmailVerified bool   `json:"emailVerified"`
}

// Contact is a client-side address-book entry.
type Contact struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Template is a reusable canned message.
type Template struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
