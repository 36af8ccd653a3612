package models

import "time"

// Principal is the authenticated identity attached to a connection by the
// external identity provider.
type Principal struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	RoleIcon    string `json:"roleIcon"`
}

// Name returns the display name, falling back to the username.
func (p Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

type User struct {
	Principal
	UpdatedAt time.Time `json:"updatedAt"`
}
