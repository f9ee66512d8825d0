package protocol

// Slash command names the gateway's command registry ships with.
const (
	CommandNew = "/new"
)
