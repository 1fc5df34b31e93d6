package redis

import "strings"

// Key layout. Every per-room key shares the chat:room:<id> prefix so a room
// can be dropped with one DEL of its known keys.
const (
	roomIndexKey = "chat:rooms"

	// RoomsChannel carries registry changes to every instance.
	RoomsChannel = "chat:rooms:events"
	// RoomEventsPattern matches every per-room event channel.
	RoomEventsPattern = "chat:room:*:events"
)

func roomKey(id string) string          { return "chat:room:" + id }
func allowedKey(id string) string       { return "chat:room:" + id + ":allowed" }
func historyKey(id string) string       { return "chat:room:" + id + ":history" }
func seqKey(id string) string           { return "chat:room:" + id + ":seq" }
func presenceKey(id string) string      { return "chat:room:" + id + ":presence" }
func presenceNamesKey(id string) string { return "chat:room:" + id + ":presence:names" }

func dedupKey(roomID, userID, clientMsgID string) string {
	return "chat:dedup:" + roomID + ":" + userID + ":" + clientMsgID
}

// RoomChannel is the pub/sub channel of one room.
func RoomChannel(id string) string { return "chat:room:" + id + ":events" }

// roomFromChannel extracts the room id from a RoomChannel name.
func roomFromChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, "chat:room:")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ":events")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
