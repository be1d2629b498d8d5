package models

import "time"

// Advisory length limits; the backend owns the authoritative constraints.
const (
	MaxTitleLen       = 100
	MaxContentLen     = 1000
	MaxNameLen        = 50
	MaxDescriptionLen = 500
)

type Identity struct {
	ID        string
	Email     string
	UserName  string
	AvatarURL string
}

// DisplayName prefers the provider user name and falls back to the email.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if i.UserName != "" {
		return i.UserName
	}
	return i.Email
}

type CommunityRef struct {
	Name string `json:"name"`
}

type Post struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	Content      string        `json:"content"`
	ImageURL     string        `json:"image_url"`
	AvatarURL    *string       `json:"avatar_url,omitempty"`
	LikeCount    *int          `json:"like_count,omitempty"`
	CommentCount *int          `json:"comment_count,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	CommunityID  *int64        `json:"community_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	Community    *CommunityRef `json:"communities,omitempty"`
}

func (p Post) Likes() int {
	if p.LikeCount == nil {
		return 0
	}
	return *p.LikeCount
}

func (p Post) Comments() int {
	if p.CommentCount == nil {
		return 0
	}
	return *p.CommentCount
}

type Community struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      string    `json:"user_id,omitempty"`
}

// NewPost is the insert payload for the posts table.
type NewPost struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ImageURL    string `json:"image_url"`
	CommunityID *int64 `json:"community_id"`
	UserID      string `json:"user_id"`
}

// NewCommunity is the insert payload for the communities table.
type NewCommunity struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UserID      string `json:"user_id"`
}
