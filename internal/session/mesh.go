package session

import (
	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

// LinkState is the negotiation state of one peer link:
// absent -> negotiating(offerer|answerer) -> connected -> closed.
type LinkState int

const (
	LinkAbsent LinkState = iota
	LinkOffering
	LinkAnswering
	LinkConnected
	LinkClosed
)

func (st LinkState) String() string {
	switch st {
	case LinkAbsent:
		return "absent"
	case LinkOffering:
		return "negotiating(offerer)"
	case LinkAnswering:
		return "negotiating(answerer)"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// peerLink is owned exclusively by the session loop; one per remote
// connection id.
type peerLink struct {
	remote domain.ConnectionID
	state  LinkState
	media  Link
}

type pendingStream struct {
	stream   RemoteStream
	attempts int
}

// onNewParticipant opens the offerer side of a fresh link. Local capture is
// always ready by the time the loop runs (Start acquires it before
// announcing the mesh join), but the guard stays: offering without tracks
// would negotiate an empty session.
func (s *Session) onNewParticipant(env *protocol.Envelope) {
	var p protocol.NewParticipant
	if err := env.Payload(&p); err != nil {
		s.logger.Error().Err(err).Msg("bad new-participant payload")
		return
	}
	if p.From == "" || p.From == s.connID {
		return
	}
	s.ensureParticipant(p.From, p.User)
	if s.local == nil {
		s.logger.Warn().Str("peer", string(p.From)).Msg("capture not ready, skipping offer")
		return
	}
	if _, ok := s.links[p.From]; ok {
		return
	}
	s.openOfferer(p.From)
}

func (s *Session) openOfferer(remote domain.ConnectionID) {
	media, err := s.engine.NewLink(remote)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", string(remote)).Msg("create link")
		return
	}
	pl := &peerLink{remote: remote, state: LinkOffering, media: media}
	s.links[remote] = pl
	s.wireLink(pl)

	// tracks must be attached before the offer is generated, or the offer
	// will not describe them
	if err := media.AttachLocal(s.local); err != nil {
		s.failLink(pl, "attach local tracks", err)
		return
	}
	offer, err := media.CreateOffer()
	if err != nil {
		s.failLink(pl, "create offer", err)
		return
	}
	s.send(protocol.EventOffer, protocol.Offer{To: remote, SDP: offer})
	s.logger.Debug().Str("peer", string(remote)).Msg("offer sent")
}

// onOffer handles the answerer transition. Duplicate mesh edges are
// prevented by first-offer-wins; simultaneous offers (glare) resolve
// deterministically: the side with the lexicographically smaller connection
// id is polite and abandons its own offer to answer, the other side ignores
// the incoming offer and waits for that answer.
func (s *Session) onOffer(env *protocol.Envelope) {
	var p protocol.Offer
	if err := env.Payload(&p); err != nil {
		s.logger.Error().Err(err).Msg("bad offer payload")
		return
	}
	if p.From == "" {
		return
	}

	if existing, ok := s.links[p.From]; ok {
		if existing.state == LinkOffering && s.politeTowards(p.From) {
			s.logger.Debug().Str("peer", string(p.From)).Msg("glare: abandoning own offer")
			s.closeLink(p.From)
		} else {
			s.logger.Debug().
				Str("peer", string(p.From)).
				Str("state", existing.state.String()).
				Msg("dropping duplicate offer")
			return
		}
	}

	if p.User != nil {
		s.ensureParticipant(p.From, *p.User)
	}
	if s.local == nil {
		s.logger.Warn().Str("peer", string(p.From)).Msg("capture not ready, cannot answer")
		return
	}
	s.openAnswerer(p.From, p.SDP)
}

func (s *Session) openAnswerer(remote domain.ConnectionID, offer protocol.SessionDescription) {
	media, err := s.engine.NewLink(remote)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", string(remote)).Msg("create link")
		return
	}
	pl := &peerLink{remote: remote, state: LinkAnswering, media: media}
	s.links[remote] = pl
	s.wireLink(pl)

	if err := media.SetRemoteOffer(offer); err != nil {
		s.failLink(pl, "apply remote offer", err)
		return
	}
	if err := media.AttachLocal(s.local); err != nil {
		s.failLink(pl, "attach local tracks", err)
		return
	}
	answer, err := media.CreateAnswer()
	if err != nil {
		s.failLink(pl, "create answer", err)
		return
	}
	s.send(protocol.EventAnswer, protocol.Answer{To: remote, SDP: answer})
	pl.state = LinkConnected
	s.logger.Debug().Str("peer", string(remote)).Msg("answer sent")
	if s.events.OnPeerConnected != nil {
		s.events.OnPeerConnected(remote)
	}
}

// onAnswer completes the offerer side. Only a link still awaiting its
// offer's answer may apply one; stale or duplicate answers would corrupt
// negotiation state and are dropped.
func (s *Session) onAnswer(env *protocol.Envelope) {
	var p protocol.Answer
	if err := env.Payload(&p); err != nil {
		s.logger.Error().Err(err).Msg("bad answer payload")
		return
	}
	pl, ok := s.links[p.From]
	if !ok {
		s.logger.Debug().Str("peer", string(p.From)).Msg("answer for absent link dropped")
		return
	}
	if pl.state != LinkOffering {
		s.logger.Debug().
			Str("peer", string(p.From)).
			Str("state", pl.state.String()).
			Msg("stale answer dropped")
		return
	}
	if err := pl.media.ApplyAnswer(p.SDP); err != nil {
		s.failLink(pl, "apply answer", err)
		return
	}
	pl.state = LinkConnected
	s.logger.Debug().Str("peer", string(p.From)).Msg("link connected")
	if s.events.OnPeerConnected != nil {
		s.events.OnPeerConnected(p.From)
	}
}

// onICECandidate applies a trickled candidate to the matching link.
// Candidates for links not yet created or already closed are silently
// dropped; late candidates are never an error.
func (s *Session) onICECandidate(env *protocol.Envelope) {
	var p protocol.ICEMessage
	if err := env.Payload(&p); err != nil {
		s.logger.Error().Err(err).Msg("bad candidate payload")
		return
	}
	pl, ok := s.links[p.From]
	if !ok || pl.state == LinkClosed {
		return
	}
	if err := pl.media.AddICECandidate(p.Candidate); err != nil {
		s.logger.Warn().Err(err).Str("peer", string(p.From)).Msg("add ice candidate")
	}
}

// wireLink marshals media callbacks (which fire on engine goroutines) back
// into the session loop, and guards them against the link having been
// replaced or closed in the meantime.
func (s *Session) wireLink(pl *peerLink) {
	remote := pl.remote
	pl.media.OnICECandidate(func(cand protocol.ICECandidate) {
		s.post(func() {
			if cur, ok := s.links[remote]; !ok || cur != pl || cur.state == LinkClosed {
				return
			}
			s.send(protocol.EventICECandidate, protocol.ICEMessage{To: remote, Candidate: cand})
		})
	})
	pl.media.OnRemoteStream(func(stream RemoteStream) {
		s.post(func() {
			if cur, ok := s.links[remote]; !ok || cur != pl || cur.state == LinkClosed {
				return
			}
			s.acceptRemoteStream(remote, stream)
		})
	})
}

// acceptRemoteStream hands the stream to its sink, or queues it when the
// sink has not been registered yet (the destination is mounted
// asynchronously on the consumer side).
func (s *Session) acceptRemoteStream(remote domain.ConnectionID, stream RemoteStream) {
	if sink, ok := s.sinks[remote]; ok {
		if err := sink.Attach(stream); err == nil {
			delete(s.pending, remote)
			return
		}
	}
	s.pending[remote] = &pendingStream{stream: stream}
}

// drainPending retries the queued stream for one connection. Entries whose
// sink keeps failing are dropped after a bounded number of attempts; no
// background timers are involved, so teardown leaves nothing running.
func (s *Session) drainPending(remote domain.ConnectionID) {
	entry, ok := s.pending[remote]
	if !ok {
		return
	}
	sink, ok := s.sinks[remote]
	if !ok {
		return
	}
	if err := sink.Attach(entry.stream); err != nil {
		entry.attempts++
		if entry.attempts >= s.maxAttach {
			s.logger.Warn().Str("peer", string(remote)).Msg("giving up on stream attachment")
			delete(s.pending, remote)
		}
		return
	}
	delete(s.pending, remote)
}

func (s *Session) closeLink(remote domain.ConnectionID) {
	pl, ok := s.links[remote]
	if !ok {
		return
	}
	pl.state = LinkClosed
	pl.media.Close()
	delete(s.links, remote)
	delete(s.pending, remote)
	s.logger.Debug().Str("peer", string(remote)).Msg("link closed")
}

// failLink isolates a per-link negotiation failure: the link is closed and
// forgotten, the session and every other link stay untouched.
func (s *Session) failLink(pl *peerLink, op string, err error) {
	s.logger.Error().Err(err).Str("peer", string(pl.remote)).Msg(op + " failed")
	s.closeLink(pl.remote)
}

func (s *Session) politeTowards(remote domain.ConnectionID) bool {
	return string(s.connID) < string(remote)
}
