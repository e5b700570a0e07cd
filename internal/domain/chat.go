package domain

import "time"

// ChatMessage is a room chat line. The signaling core only passes it
// through; persistence is optional.
type ChatMessage struct {
	Room      RoomID    `json:"room" msgpack:"room"`
	From      MemberID  `json:"from" msgpack:"from"`
	Username  string    `json:"name" msgpack:"name"`
	Text      string    `json:"text" msgpack:"text"`
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}
