package session

import (
	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

// The collaborative buffer converges by overwrite-on-receipt: the latest
// delivered write fully replaces local state, no merge is attempted.

func (s *Session) onCodeChange(env *protocol.Envelope) {
	var code string
	if err := env.Payload(&code); err != nil {
		s.logger.Error().Err(err).Msg("bad code-change payload")
		return
	}
	s.buffer.Content = code
	if s.events.OnCode != nil {
		s.events.OnCode(code)
	}
}

func (s *Session) onLanguageChange(env *protocol.Envelope) {
	var raw string
	if err := env.Payload(&raw); err != nil {
		s.logger.Error().Err(err).Msg("bad language-change payload")
		return
	}
	lang, err := domain.ParseLanguage(raw)
	if err != nil {
		s.logger.Warn().Str("language", raw).Msg("ignoring unknown language")
		return
	}
	s.buffer.Language = lang
	if s.events.OnLanguage != nil {
		s.events.OnLanguage(lang)
	}
}

func (s *Session) onCodeOutput(env *protocol.Envelope) {
	var p protocol.CodeOutput
	if err := env.Payload(&p); err != nil {
		s.logger.Error().Err(err).Msg("bad code-output payload")
		return
	}
	s.output = p.Output
	if s.events.OnOutput != nil {
		s.events.OnOutput(p.Output)
	}
}
