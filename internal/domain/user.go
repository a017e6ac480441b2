package domain

import "time"

// Role is the access level of a user. It is only ever changed by the
// role workflow engine.
type Role string

const (
	RoleRecruiter        Role = "recruiter"
	RolePendingCommander Role = "pending_station_commander"
	RoleCommander        Role = "station_commander"
	RoleAdmin            Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRecruiter, RolePendingCommander, RoleCommander, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Rank         string    `json:"rank,omitempty"`
	Role         Role      `json:"role"`
	StationID    string    `json:"station_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Supervises reports whether u may see records owned by owner: admins see
// everything, commanders see their own station.
func (u User) Supervises(owner User) bool {
	if u.ID == owner.ID || u.IsAdmin() {
		return true
	}
	return u.Role == RoleCommander && u.StationID != "" && u.StationID == owner.StationID
}

type Station struct {
	ID    string `json:"id" yaml:"id"`
	Code  string `json:"code" yaml:"code"`
	Name  string `json:"name" yaml:"name"`
	City  string `json:"city,omitempty" yaml:"city"`
	State string `json:"state,omitempty" yaml:"state"`
}
