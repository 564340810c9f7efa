package model

import "time"

// Soldier is a person who can hold equipment. Items reference soldiers by ID
// but never own them.
type Soldier struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Division  string    `json:"division" bson:"division"`
	Team      string    `json:"team,omitempty" bson:"team,omitempty"`
	Email     string    `json:"email,omitempty" bson:"email,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
