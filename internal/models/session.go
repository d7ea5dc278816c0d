package models

import "time"

// Interaction is one answered question in a session's history.
type Interaction struct {
	Question string    `json:"question"`
	Response string    `json:"response"`
	AskedAt  time.Time `json:"askedAt"`
}
