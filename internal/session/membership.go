package session

import (
	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

// onRoomMembers replaces the local membership set verbatim with the server
// snapshot, deduplicated by user id: when the transport briefly reports two
// connections for one user, the later entry wins.
func (s *Session) onRoomMembers(env *protocol.Envelope) {
	var members []domain.Participant
	if err := env.Payload(&members); err != nil {
		s.logger.Error().Err(err).Msg("bad room-members payload")
		return
	}

	latest := make(map[domain.UserID]int, len(members))
	for i, m := range members {
		latest[m.UserID] = i
	}

	s.participants = make(map[domain.ConnectionID]domain.Participant, len(members))
	s.order = s.order[:0]
	for i, m := range members {
		if latest[m.UserID] != i {
			continue
		}
		s.participants[m.ConnectionID] = m
		s.order = append(s.order, m.ConnectionID)
	}

	s.notifyMembers()
}

// onRoomDeleted forces a local teardown. The room is gone server-side, so
// no departure is announced and nothing further is sent.
func (s *Session) onRoomDeleted(_ *protocol.Envelope) {
	s.logger.Info().Msg("room deleted")
	if s.events.OnRoomDeleted != nil {
		s.events.OnRoomDeleted()
	}
	s.teardown(false)
}

// onUserLeft releases everything bound to the departed connection.
func (s *Session) onUserLeft(env *protocol.Envelope) {
	var id domain.ConnectionID
	if err := env.Payload(&id); err != nil {
		s.logger.Error().Err(err).Msg("bad user-left payload")
		return
	}

	s.closeLink(id)
	if _, ok := s.participants[id]; ok {
		delete(s.participants, id)
		s.dropFromOrder(id)
		s.notifyMembers()
	}
}

// ensureParticipant records a remote participant discovered through the
// mesh (new-participant or an inbound offer) before the next membership
// snapshot arrives.
func (s *Session) ensureParticipant(id domain.ConnectionID, user domain.User) {
	if _, ok := s.participants[id]; ok {
		return
	}
	s.participants[id] = domain.NewParticipant(id, user)
	s.order = append(s.order, id)
	s.notifyMembers()
}

func (s *Session) dropFromOrder(id domain.ConnectionID) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Session) notifyMembers() {
	if s.events.OnMembers == nil {
		return
	}
	out := make([]domain.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.participants[id])
	}
	s.events.OnMembers(out)
}
