package testutil

// FixedTokenGenerator generates the same session token every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same FixedTokenGenerator produces byte-identical
// traces.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a new fixed token generator.
//
// The token is typically set in the scenario YAML:
//
//	session_token: "test-session-00000000-0000-0000-0000-000000000001"
//
// If token is empty, Generate() returns "test-session-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-session-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
//
// Implements session.TokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
