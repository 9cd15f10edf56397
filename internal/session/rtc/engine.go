// Package rtc is the pion-backed media engine behind the session's Link
// interface.
package rtc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
	"github.com/lmikhailov/coderoom/internal/session"
)

type Engine struct {
	cfg    webrtc.Configuration
	logger zerolog.Logger
}

func NewEngine(stunServers []string, logger *zerolog.Logger) *Engine {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Engine{
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		},
		logger: logger.With().Str("module", "rtc").Logger(),
	}
}

// Capture builds the local track pair shared by every link. Sample
// producers consult the enabled flags before writing; toggling never
// touches the peer connections.
func (e *Engine) Capture(_ context.Context) (session.LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "coderoom",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "coderoom",
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	m := &localMedia{audio: audio, video: video}
	m.videoOn.Store(true)
	m.audioOn.Store(true)
	return m, nil
}

func (e *Engine) NewLink(remote domain.ConnectionID) (session.Link, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	l := &link{
		pc:     pc,
		remote: remote,
		logger: e.logger.With().Str("peer", string(remote)).Logger(),
	}

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		l.logger.Debug().Str("ice_state", st.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		l.logger.Debug().Str("peer_connection_state", st.String()).Msg("peer state")
	})

	return l, nil
}

type localMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	videoOn atomic.Bool
	audioOn atomic.Bool
}

func (m *localMedia) SetVideoEnabled(on bool) { m.videoOn.Store(on) }
func (m *localMedia) SetAudioEnabled(on bool) { m.audioOn.Store(on) }
func (m *localMedia) VideoEnabled() bool      { return m.videoOn.Load() }
func (m *localMedia) AudioEnabled() bool      { return m.audioOn.Load() }
func (m *localMedia) Close()                  {}

// AudioTrack and VideoTrack expose the sample sinks for capture producers.
func (m *localMedia) AudioTrack() *webrtc.TrackLocalStaticSample { return m.audio }
func (m *localMedia) VideoTrack() *webrtc.TrackLocalStaticSample { return m.video }

type link struct {
	pc     *webrtc.PeerConnection
	remote domain.ConnectionID
	logger zerolog.Logger
}

func (l *link) AttachLocal(media session.LocalMedia) error {
	m, ok := media.(*localMedia)
	if !ok {
		return fmt.Errorf("unexpected local media type %T", media)
	}
	if _, err := l.pc.AddTrack(m.audio); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	if _, err := l.pc.AddTrack(m.video); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	return nil
}

func (l *link) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return fromPion(l.pc.LocalDescription()), nil
}

func (l *link) SetRemoteOffer(sdp protocol.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(toPion(sdp)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (l *link) CreateAnswer() (protocol.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return fromPion(l.pc.LocalDescription()), nil
}

func (l *link) ApplyAnswer(sdp protocol.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(toPion(sdp)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (l *link) AddICECandidate(cand protocol.ICECandidate) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

func (l *link) OnICECandidate(fn func(protocol.ICECandidate)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ci := c.ToJSON()
		fn(protocol.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})
}

func (l *link) OnRemoteStream(fn func(session.RemoteStream)) {
	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.logger.Debug().
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		fn(&remoteStream{track: track})
	})
}

func (l *link) Close() {
	if err := l.pc.Close(); err != nil {
		l.logger.Error().Err(err).Msg("close error")
	}
}

type remoteStream struct {
	track *webrtc.TrackRemote
}

func (r *remoteStream) ID() string                 { return r.track.StreamID() }
func (r *remoteStream) Track() *webrtc.TrackRemote { return r.track }

func toPion(sdp protocol.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
}

func fromPion(sdp *webrtc.SessionDescription) protocol.SessionDescription {
	if sdp == nil {
		return protocol.SessionDescription{}
	}
	return protocol.SessionDescription{Type: sdp.Type.String(), SDP: sdp.SDP}
}
