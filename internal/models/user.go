package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrMalformedPayload indicates the remote document could not be decoded into users.
var ErrMalformedPayload = errors.New("malformed payload")

// User is a person record as served by the remote endpoint.
type User struct {
	ID         string    `json:"id"`
	IsActive   bool      `json:"isActive"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	Company    string    `json:"company"`
	Email      string    `json:"email"`
	Address    string    `json:"address"`
	About      string    `json:"about"`
	Registered time.Time `json:"registered"`
	Tags       []string  `json:"tags"`
	Friends    []Friend  `json:"friends"`
}

// Friend references another user by id with the display name captured at fetch time.
type Friend struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// wireUser mirrors User with pointer fields so absent keys can be told apart from zero values.
type wireUser struct {
	ID         *string       `json:"id"`
	IsActive   *bool         `json:"isActive"`
	Name       *string       `json:"name"`
	Age        *int          `json:"age"`
	Company    *string       `json:"company"`
	Email      *string       `json:"email"`
	Address    *string       `json:"address"`
	About      *string       `json:"about"`
	Registered *string       `json:"registered"`
	Tags       []string      `json:"tags"`
	Friends    []*wireFriend `json:"friends"`
}

type wireFriend struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

// DecodeUsers parses a JSON array of user objects. Every failure wraps ErrMalformedPayload.
// Records sharing an id collapse into the last one, kept at the first one's position.
func DecodeUsers(data []byte) ([]User, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array of users", ErrMalformedPayload)
	}
	var raw []*wireUser
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	users := make([]User, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for i, w := range raw {
		user, err := w.toUser()
		if err != nil {
			return nil, fmt.Errorf("%w: user %d: %v", ErrMalformedPayload, i, err)
		}
		// A repeated id replaces the earlier record, matching last-write-wins in the cache.
		if j, ok := seen[user.ID]; ok {
			users[j] = user
			continue
		}
		seen[user.ID] = len(users)
		users = append(users, user)
	}
	return users, nil
}

func (w *wireUser) toUser() (User, error) {
	if w == nil {
		return User{}, errors.New("null entry")
	}
	switch {
	case w.ID == nil:
		return User{}, missing("id")
	case w.IsActive == nil:
		return User{}, missing("isActive")
	case w.Name == nil:
		return User{}, missing("name")
	case w.Age == nil:
		return User{}, missing("age")
	case w.Company == nil:
		return User{}, missing("company")
	case w.Email == nil:
		return User{}, missing("email")
	case w.Address == nil:
		return User{}, missing("address")
	case w.About == nil:
		return User{}, missing("about")
	case w.Registered == nil:
		return User{}, missing("registered")
	}
	if *w.Age < 0 {
		return User{}, fmt.Errorf("age %d is negative", *w.Age)
	}
	registered, err := time.Parse(time.RFC3339, *w.Registered)
	if err != nil {
		return User{}, fmt.Errorf("registered %q is not an ISO-8601 timestamp", *w.Registered)
	}

	user := User{
		ID:         *w.ID,
		IsActive:   *w.IsActive,
		Name:       *w.Name,
		Age:        *w.Age,
		Company:    *w.Company,
		Email:      *w.Email,
		Address:    *w.Address,
		About:      *w.About,
		Registered: registered,
		Tags:       []string{},
		Friends:    []Friend{},
	}
	if w.Tags != nil {
		user.Tags = w.Tags
	}
	for j, f := range w.Friends {
		if f == nil || f.ID == nil || f.Name == nil {
			return User{}, fmt.Errorf("friend %d: id and name are required", j)
		}
		user.Friends = append(user.Friends, Friend{ID: *f.ID, Name: *f.Name})
	}
	return user, nil
}

func missing(field string) error {
	return fmt.Errorf("missing required field %q", field)
}

// EncodeUsers renders users in the same shape DecodeUsers accepts.
func EncodeUsers(users []User) ([]byte, error) {
	out := make([]User, len(users))
	for i, u := range users {
		if u.Tags == nil {
			u.Tags = []string{}
		}
		if u.Friends == nil {
			u.Friends = []Friend{}
		}
		out[i] = u
	}
	return json.Marshal(out)
}

// CompareByName orders users by name, then id, using byte-wise comparison.
func CompareByName(a, b User) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortByName sorts users in place by name ascending.
func SortByName(users []User) {
	slices.SortStableFunc(users, CompareByName)
}

// FindUser returns the user with the given id.
func FindUser(users []User, id string) (User, bool) {
	i := slices.IndexFunc(users, func(u User) bool { return u.ID == id })
	if i < 0 {
		return User{}, false
	}
	return users[i], true
}
