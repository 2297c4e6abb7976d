package authoring

import "github.com/rs/zerolog"

// Normalizer rewrites dictated text before it is merged into a section.
type Normalizer interface {
	Normalize(text string) string
}

type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(text string) string { return f(text) }

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithNormalizer(n Normalizer) Option {
	return func(s *Session) { s.normalizer = n }
}

// WithChangeHook registers fn to be called with the submission payload after
// every local mutation. fn runs while the session is locked and must not call
// back into it.
func WithChangeHook(fn func(key string, payload Payload)) Option {
	return func(s *Session) { s.onChange = fn }
}
