package ir

// AgentVersion is the shelfcast agent version, reported by the CLI and
// the status API.
const AgentVersion = "0.3.0"
