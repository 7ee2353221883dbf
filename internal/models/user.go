package models

import "net/url"

// User is a peer known to the directory.
type User struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Email       string `db:"email" json:"email"`
	AvatarURL   string `db:"avatar_url" json:"avatar_url"`
	Online      bool   `db:"-" json:"online"`
}

// Label is the name shown in lists: the display name, or the email when unset.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

// Avatar returns the avatar url, falling back to a generated initials image.
func (u User) Avatar() string {
	if u.AvatarURL != "" {
		return u.AvatarURL
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(u.Label()) + "&background=random"
}
