package domain

// Action is a capability-checked operation.
type Action string

const (
	ActionViewRoom     Action = "room:view"
	ActionJoinRoom     Action = "room:join"
	ActionPostMessage  Action = "room:post"
	ActionCreateRoom   Action = "room:create"
	ActionUpdateRoom   Action = "room:update"
	ActionDeleteRoom   Action = "room:delete"
	ActionAssignUsers  Action = "room:assign"
	ActionClearHistory Action = "room:clear_history"
	ActionListUsers    Action = "user:list"
	ActionManageUsers  Action = "user:manage"
	ActionListModels   Action = "ai:models"
	ActionSpeak        Action = "tts:speak"
)

// Resource is the context an action is checked against. Room is nil for
// actions that do not target a room.
type Resource struct {
	Room   *Room
	UserID string
}

// Can is the single capability rule consulted by every component.
//
//	admin  → everything
//	user   → public rooms, assigned/created private rooms, create rooms,
//	         manage rooms they created, list users and models
//	kid    → default room and assigned rooms only, no management
func Can(role Role, action Action, res Resource) bool {
	if role == RoleAdmin {
		return true
	}
	if !role.Valid() {
		return false
	}

	switch action {
	case ActionViewRoom, ActionJoinRoom, ActionPostMessage:
		return canReach(role, res)
	case ActionCreateRoom:
		return role == RoleUser
	case ActionUpdateRoom, ActionDeleteRoom, ActionAssignUsers:
		return role == RoleUser && res.Room != nil && res.Room.CreatedBy == res.UserID
	case ActionListUsers, ActionListModels:
		return role == RoleUser
	case ActionSpeak:
		return res.Room == nil || canReach(role, res)
	case ActionClearHistory, ActionManageUsers:
		return false
	}
	return false
}

func canReach(role Role, res Resource) bool {
	room := res.Room
	if room == nil {
		return false
	}
	if room.IsDefault() {
		return true
	}
	if room.IsAssigned(res.UserID) {
		return true
	}
	if role == RoleKid {
		return false
	}
	return room.Visibility == VisibilityPublic || room.CreatedBy == res.UserID
}
