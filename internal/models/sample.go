package models

import "time"

// SampleUsers returns the two built-in users loaded in debug mode. They list each other as friends.
func SampleUsers(now time.Time) []User {
	return []User{
		{
			ID:         "sample",
			IsActive:   true,
			Name:       "Alan Walker",
			Age:        24,
			Company:    "Pegasystems Inc",
			Email:      "alan@pega.com",
			Address:    "155 Santa Clara Boulevar, New Jersey, US",
			About:      "I am a professional DJ with some tracks written and published online.",
			Registered: now,
			Tags:       []string{"DJ", "lorem", "ipsum", "dolor", "sit", "amet"},
			Friends:    []Friend{{ID: "sample1", Name: "Bob"}},
		},
		{
			ID:         "sample1",
			IsActive:   false,
			Name:       "Bob Trahan",
			Age:        17,
			Company:    "Night Media",
			Email:      "bob@night.com",
			Address:    "579134 Singapore",
			About:      "Friend to Alan Walker",
			Registered: now,
			Tags:       []string{"dolor", "sit"},
			Friends:    []Friend{{ID: "sample", Name: "Alan Walker"}},
		},
	}
}
