package domain

import "errors"

var ErrUnknownLanguage = errors.New("unknown language")

type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageC          Language = "c"
	LanguagePython     Language = "python"
	LanguageCPP        Language = "cpp"
	LanguageJava       Language = "java"
)

// ParseLanguage validates a run-target language received from the wire.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(s); l {
	case LanguageJavaScript, LanguageC, LanguagePython, LanguageCPP, LanguageJava:
		return l, nil
	}
	return "", ErrUnknownLanguage
}

// BufferState is the single room-wide shared value. No versioning:
// the latest write observed wins.
type BufferState struct {
	Content  string   `json:"content"`
	Language Language `json:"language"`
}

func DefaultBuffer() BufferState {
	return BufferState{Content: "// Start coding...", Language: LanguageJavaScript}
}
