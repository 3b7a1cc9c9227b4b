package connection

import "strings"

// KnownBots are chat bot accounts. A sender matches when its name
// contains any of them.
var KnownBots = []string{
	"streamlabs", "nightbot", "moobot", "streamelements",
	"fossabot", "cloudbot", "botrix", "kickbot",
}

// IsKnownBot reports whether the normalized user name belongs to a bot.
func IsKnownBot(user string) bool {
	user = strings.ToLower(user)
	for _, b := range KnownBots {
		if strings.Contains(user, b) {
			return true
		}
	}
	return false
}
