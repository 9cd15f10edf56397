package domain

// Participant is one user's live connection to a room.
// At most one entry per ConnectionID may exist in a membership set;
// sets are additionally deduplicated by UserID (later entry wins).
type Participant struct {
	ConnectionID ConnectionID `json:"socketId"`
	UserID       UserID       `json:"id"`
	Email        string       `json:"email"`
	VideoOn      bool         `json:"isVideoOn"`
	AudioOn      bool         `json:"isAudioOn"`
}

// MediaState is the (video, audio) enablement pair broadcast on toggle.
// It is held redundantly on the Participant record; the synchronizer keeps
// the two consistent.
type MediaState struct {
	VideoOn bool `json:"isVideoOn"`
	AudioOn bool `json:"isAudioOn"`
}

func NewParticipant(conn ConnectionID, user User) Participant {
	return Participant{
		ConnectionID: conn,
		UserID:       user.ID,
		Email:        user.Email,
		VideoOn:      true,
		AudioOn:      true,
	}
}
