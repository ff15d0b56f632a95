package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// RouteLogs sends discordgo's internal logging through entry.
func RouteLogs(entry *logrus.Entry) {
	discordgo.Logger = func(msgL, _ int, format string, a ...interface{}) {
		entry.Logf(logrusLevel(msgL), format, a...)
	}
}

func logrusLevel(msgL int) logrus.Level {
	switch msgL {
	case discordgo.LogError:
		return logrus.ErrorLevel
	case discordgo.LogWarning:
		return logrus.WarnLevel
	case discordgo.LogInformational:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

func sessionLogLevel(l logrus.Level) int {
	switch {
	case l >= logrus.DebugLevel:
		return discordgo.LogDebug
	case l >= logrus.InfoLevel:
		return discordgo.LogInformational
	case l >= logrus.WarnLevel:
		return discordgo.LogWarning
	default:
		return discordgo.LogError
	}
}
