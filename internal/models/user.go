package models

// UserInfo is the public profile attached to outbound chat frames.
type UserInfo struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the display name, falling back to the username.
func (u UserInfo) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
