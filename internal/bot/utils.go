package bot

import (
	"fmt"
	"log"
	"strings"
	"time"

	"remindbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
)

// sessionNotifier adapts the Discord session to the notification sink the
// scheduling engines expect: send text to a channel, nothing richer.
type sessionNotifier struct {
	session *discordgo.Session
}

func (n *sessionNotifier) Send(channelID, message string) (string, error) {
	msg, err := n.session.ChannelMessageSend(channelID, message)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// parseLeadTime parses a user-supplied lead time like "45m", "1h30m" or
// "3d12h". Days are not a unit time.ParseDuration knows, so a leading Nd is
// split off first.
func parseLeadTime(input string) (time.Duration, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	var days int
	if idx := strings.Index(input, "d"); idx > 0 {
		if _, err := fmt.Sscanf(input[:idx+1], "%dd", &days); err == nil {
			input = input[idx+1:]
		}
	}
	var rest time.Duration
	if input != "" {
		var err error
		rest, err = time.ParseDuration(input)
		if err != nil {
			return 0, fmt.Errorf("unrecognized duration %q (try 45m, 1h30m, 3d)", input)
		}
	}
	return time.Duration(days)*24*time.Hour + rest, nil
}

// parseEventDate parses "2006-01-02 15:04" (or just the date) in the given
// timezone.
func parseEventDate(input, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, input, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (use YYYY-MM-DD or YYYY-MM-DD HH:MM)", input)
}

// respondWithError sends an error followup to the user
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: "Error: " + errMsg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		log.Printf("Error sending error followup: %v", err)
	}
}

// respondWithSuccess sends a success followup to the user
func respondWithSuccess(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		log.Printf("Error sending success followup: %v", err)
	}
}

// getUserFromInteraction gets or creates a user from the interaction
func (b *Bot) getUserFromInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) (*models.User, error) {
	var userID, username string
	if i.Member != nil && i.Member.User != nil {
		// Server interaction
		userID = i.Member.User.ID
		username = i.Member.User.Username
	} else if i.User != nil {
		// DM interaction
		userID = i.User.ID
		username = i.User.Username
	} else {
		err := fmt.Errorf("could not get user information from interaction")
		respondWithError(s, i, err.Error())
		return nil, err
	}

	user, err := b.db.GetOrCreateUser(userID, username)
	if err != nil {
		respondWithError(s, i, "Error getting user: "+err.Error())
		return nil, err
	}
	return user, nil
}

// formatTime formats a time using the user's timezone
func formatTime(t time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

// logError logs errors to both console and Discord server
func logError(s *discordgo.Session, channelID string, errContext, errMsg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	logMessage := fmt.Sprintf("[%s] ERROR - %s: %s", timestamp, errContext, errMsg)

	// Log to console
	log.Println(logMessage)

	// Send log to Discord server
	sendServerLog(s, channelID, logMessage)
}

// sendServerLog sends a log message to the Discord server
func sendServerLog(s *discordgo.Session, channelID string, message string) {
	_, err := s.ChannelMessageSend(channelID, fmt.Sprintf("`%s`", message))
	if err != nil {
		log.Printf("Error sending log to Discord: %v", err)
	}
}

// formatLogMessage builds the bracketed log prefix used across the bot.
func formatLogMessage(guildID, message, actor, serverName string) string {
	scope := guildID
	if serverName != "" {
		scope = fmt.Sprintf("%s (%s)", serverName, guildID)
	}
	if actor != "" {
		return fmt.Sprintf("[%s] [%s] %s", scope, actor, message)
	}
	return fmt.Sprintf("[%s] %s", scope, message)
}

// getServerName resolves a guild id to its name, empty on failure.
func getServerName(s *discordgo.Session, guildID string) string {
	if guildID == "" {
		return ""
	}
	guild, err := s.State.Guild(guildID)
	if err != nil {
		guild, err = s.Guild(guildID)
		if err != nil {
			return ""
		}
	}
	return guild.Name
}

// hasPermission checks a member's effective permissions in a guild.
func hasPermission(s *discordgo.Session, guildID, userID string, permission int64) bool {
	member, err := s.GuildMember(guildID, userID)
	if err != nil {
		log.Printf("Error getting guild member: %v", err)
		return false
	}

	guild, err := s.Guild(guildID)
	if err != nil {
		log.Printf("Error getting guild: %v", err)
		return false
	}

	if guild.OwnerID == userID {
		return true
	}

	for _, roleID := range member.Roles {
		for _, role := range guild.Roles {
			if role.ID == roleID {
				if role.Permissions&discordgo.PermissionAdministrator != 0 ||
					role.Permissions&permission != 0 {
					return true
				}
				break
			}
		}
	}
	return false
}

// isAdmin reports whether the user can manage the server.
func isAdmin(s *discordgo.Session, guildID string, userID string) bool {
	return hasPermission(s, guildID, userID, discordgo.PermissionManageServer)
}

// formatTable creates a Discord-friendly table with fixed-width columns
func formatTable(headers []string, rows [][]string) string {
	// Find the maximum width for each column
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var result strings.Builder

	// Write headers
	result.WriteString("```\n")
	for i, header := range headers {
		result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, header))
	}
	result.WriteString("\n")

	// Write separator
	for _, width := range widths {
		result.WriteString(strings.Repeat("-", width+2))
	}
	result.WriteString("\n")

	// Write rows
	for _, row := range rows {
		for i, cell := range row {
			result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, cell))
		}
		result.WriteString("\n")
	}
	result.WriteString("```")

	return result.String()
}
