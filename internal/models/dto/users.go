package dto

import (
	"time"

	"github.com/hongminglow/friendface-be/internal/models"
)

// FetchRequest triggers a refresh. A nil Debug defers to the server's DEBUG_MODE.
type FetchRequest struct {
	Debug *bool `json:"debug"`
	Force bool  `json:"force"`
}

type FetchResponse struct {
	RunID       string `json:"runId"`
	Source      string `json:"source"`
	Users       int    `json:"users"`
	FetchFailed bool   `json:"fetchFailed"`
	FetchError  string `json:"fetchError,omitempty"`
	StoreError  string `json:"storeError,omitempty"`
}

type UsersResponse struct {
	Users       []models.User `json:"users"`
	FetchFailed bool          `json:"fetchFailed"`
	Version     uint64        `json:"version"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
