package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID
	DiscordID string
	Username  string
	Timezone  string
	CreatedAt time.Time
}
