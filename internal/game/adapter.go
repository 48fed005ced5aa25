package game

import "github.com/reedfamily/reedlink/internal/classify"

// Adapter provides game-specific behavior for a server type.
type Adapter interface {
	// Game returns the game identifier (e.g., "minecraft", "vintagestory")
	Game() string

	// SplitLine strips the timestamp/thread prefix from a raw console line.
	// ok is false when the prefix was not recognized; line.Message is then the raw text.
	SplitLine(raw string) (line classify.Line, ok bool)

	// Matchers returns the classification chain for this game's log format.
	Matchers() []classify.Matcher

	// PlayerCommand returns the command to list online players
	PlayerCommand() string

	// StopCommand returns the graceful stop command for the server
	StopCommand() string

	// SaveCommand flushes the world to disk
	SaveCommand() string
}
