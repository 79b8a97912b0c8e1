package domain

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the directory view of a user: the display attributes the
// signaling layer denormalizes into participant records at invite time.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
