package session

import (
	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

// setMediaState applies a local toggle: the shared capture flips once (so
// every link observes the same track state), the own membership record is
// updated, and the new flags are broadcast to the room.
func (s *Session) setMediaState(videoOn, audioOn bool) {
	if videoOn != s.videoOn {
		s.videoOn = videoOn
		if s.local != nil {
			s.local.SetVideoEnabled(videoOn)
		}
	}
	if audioOn != s.audioOn {
		s.audioOn = audioOn
		if s.local != nil {
			s.local.SetAudioEnabled(audioOn)
		}
	}

	if p, ok := s.participants[s.connID]; ok {
		p.VideoOn, p.AudioOn = videoOn, audioOn
		s.participants[s.connID] = p
	}

	s.send(protocol.EventMediaStateChanged, protocol.MediaStateChanged{
		RoomID:   s.roomID,
		SocketID: s.connID,
		VideoOn:  videoOn,
		AudioOn:  audioOn,
	})
}

// onMediaStateChanged updates a known participant's flags. Unknown senders
// are ignored: their membership entry arrives imminently via snapshot or
// mesh discovery, and no record is invented for them here.
func (s *Session) onMediaStateChanged(env *protocol.Envelope) {
	var p protocol.MediaStateChanged
	if err := env.Payload(&p); err != nil {
		s.logger.Error().Err(err).Msg("bad media-state payload")
		return
	}
	s.applyMediaState(p.SocketID, p.VideoOn, p.AudioOn)
}

// onMediaSync applies the full snapshot pushed to late joiners: toggles
// that happened before the join are unrecoverable from the event stream,
// so the current flags arrive in one shot.
func (s *Session) onMediaSync(env *protocol.Envelope) {
	var entries []protocol.MediaSyncEntry
	if err := env.Payload(&entries); err != nil {
		s.logger.Error().Err(err).Msg("bad media-sync payload")
		return
	}
	for _, e := range entries {
		if e.SocketID == s.connID {
			continue
		}
		s.applyMediaState(e.SocketID, e.VideoOn, e.AudioOn)
	}
}

func (s *Session) applyMediaState(id domain.ConnectionID, videoOn, audioOn bool) {
	p, ok := s.participants[id]
	if !ok {
		return
	}
	p.VideoOn, p.AudioOn = videoOn, audioOn
	s.participants[id] = p
	if s.events.OnMediaState != nil {
		s.events.OnMediaState(id, domain.MediaState{VideoOn: videoOn, AudioOn: audioOn})
	}
}
