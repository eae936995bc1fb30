package domain

type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type LoginResponse struct {
	SessionId string `json:"session_id"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type UserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

// RequestToHostRequest asks to become the host. An empty Domain means the
// caller's own address.
type RequestToHostRequest struct {
	Domain string `json:"domain,omitempty"`
	Port   uint16 `json:"port"`
}

type HostResponse struct {
	State HostState `json:"state"`
}

type DirUpdateRequest struct {
	Dir DirContent `json:"dir"`
}

type DirUpdateResponse struct {
	Update DirUpdate `json:"update"`
}

type NewSaveResponse struct {
	Updates UpdateList `json:"updates"`
}

type DirRequest struct {
	Dir string `json:"dir"`
}

type ErrorResponse struct {
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// EventMessage is one frame of the websocket event stream.
type EventMessage struct {
	Event *BroadcastEvent `json:"event,omitempty"`
	Error *ErrorResponse  `json:"error,omitempty"`
}
