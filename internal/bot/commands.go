package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"remindbot/internal/db/models"
	"remindbot/internal/events"
	"remindbot/internal/scheduler"
	"remindbot/internal/timeutil"

	"github.com/bwmarrin/discordgo"
)

var (
	commands = []*discordgo.ApplicationCommand{
		{
			Name:        "timezone",
			Description: "Set your timezone",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "zone",
					Description: "Timezone (e.g., America/New_York, Europe/London)",
					Required:    true,
				},
			},
		},
		{
			Name:        "remind",
			Description: "Schedule a one-shot reminder",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "in",
					Description: "Lead time (e.g., 45m, 1h30m, 3d)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "What to be reminded about",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Remind another user instead of yourself",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Remind everyone with a role",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "everyone",
					Description: "Remind the whole server",
					Required:    false,
				},
			},
		},
		{
			Name:        "reminders",
			Description: "Manage your pending reminders",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List your pending reminders",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "cancel",
					Description: "Cancel a pending reminder",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "id",
							Description: "Reminder id from /reminders list",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "event",
			Description: "Manage tracked events",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Track a new event",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Event name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "date",
							Description: "Event date (YYYY-MM-DD or YYYY-MM-DD HH:MM, your timezone)",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "description",
							Description: "Event description",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "organizer",
							Description: "Person in charge (defaults to you)",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "attachment",
							Description: "URL of an attached file",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "edit",
					Description: "Edit a tracked event",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "id",
							Description: "Event id from /event list",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "date",
							Description: "New event date (resets the reminder schedule)",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "New event name",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "description",
							Description: "New event description",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Delete a tracked event (admin only)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "id",
							Description: "Event id from /event list",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "toggle",
					Description: "Enable or disable reminders for an event",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "id",
							Description: "Event id from /event list",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List tracked events",
				},
			},
		},
	}
)

// optionMap flattens a slice of interaction options for lookup by name.
func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func (b *Bot) handleTimezone(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user, err := b.getUserFromInteraction(s, i)
	if err != nil {
		return
	}

	zone := i.ApplicationCommandData().Options[0].StringValue()
	if _, err := time.LoadLocation(zone); err != nil {
		respondWithError(s, i, fmt.Sprintf("Unknown timezone: %s", zone))
		return
	}

	if err := b.db.UpdateUserTimezone(user.ID, zone); err != nil {
		logError(s, i.ChannelID, "UpdateUserTimezone", err.Error())
		respondWithError(s, i, "Error updating timezone: "+err.Error())
		return
	}
	respondWithSuccess(s, i, fmt.Sprintf("Timezone set to %s", zone))
}

func (b *Bot) handleRemind(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user, err := b.getUserFromInteraction(s, i)
	if err != nil {
		return
	}

	opts := optionMap(i.ApplicationCommandData().Options)

	remaining, err := parseLeadTime(opts["in"].StringValue())
	if err != nil {
		respondWithError(s, i, err.Error())
		return
	}
	// Lead-time validation lives here, not in the scheduler.
	if remaining < b.config.Reminders.MinLeadTime.Std() {
		respondWithError(s, i, fmt.Sprintf("Lead time must be at least %s", b.config.Reminders.MinLeadTime.Std()))
		return
	}
	if remaining > b.config.Reminders.MaxLeadTime.Std() {
		respondWithError(s, i, fmt.Sprintf("Lead time must be at most %s", b.config.Reminders.MaxLeadTime.Std()))
		return
	}

	targetMention := "<@" + user.DiscordID + ">"
	displayTarget := user.Username
	switch {
	case opts["everyone"] != nil && opts["everyone"].BoolValue():
		if !hasPermission(s, i.GuildID, user.DiscordID, discordgo.PermissionMentionEveryone) {
			respondWithError(s, i, "You don't have permission to mention everyone")
			return
		}
		targetMention = "@everyone"
		displayTarget = "everyone"
	case opts["role"] != nil:
		role := opts["role"].RoleValue(s, i.GuildID)
		targetMention = "<@&" + role.ID + ">"
		displayTarget = role.Name
	case opts["user"] != nil:
		target := opts["user"].UserValue(s)
		targetMention = "<@" + target.ID + ">"
		displayTarget = target.Username
	}

	receipt, err := b.scheduler.RegisterReminder(context.Background(), scheduler.Registration{
		UserID:          user.DiscordID,
		GuildID:         i.GuildID,
		ChannelID:       i.ChannelID,
		OriginMessageID: i.ID,
		TargetMention:   targetMention,
		DisplayTarget:   displayTarget,
		Content:         opts["message"].StringValue(),
		Remaining:       remaining,
	})
	if err != nil {
		logError(s, i.ChannelID, "RegisterReminder", err.Error())
		respondWithError(s, i, "Error scheduling reminder: "+err.Error())
		return
	}
	respondWithSuccess(s, i, receipt)
}

func (b *Bot) handleReminders(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user, err := b.getUserFromInteraction(s, i)
	if err != nil {
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "list":
		b.handleRemindersList(s, i, user)
	case "cancel":
		b.handleRemindersCancel(s, i, user, sub)
	}
}

func (b *Bot) handleRemindersList(s *discordgo.Session, i *discordgo.InteractionCreate, user *models.User) {
	reminders, err := b.db.GetRemindersByUser(context.Background(), i.GuildID, user.DiscordID)
	if err != nil {
		logError(s, i.ChannelID, "GetRemindersByUser", err.Error())
		respondWithError(s, i, "Error loading reminders: "+err.Error())
		return
	}
	if len(reminders) == 0 {
		respondWithSuccess(s, i, "You have no pending reminders")
		return
	}

	rows := make([][]string, 0, len(reminders))
	for _, r := range reminders {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.DisplayTarget,
			formatTime(r.DueTime(), user.Timezone),
			formatDuration(time.Until(r.DueTime())),
			r.Content,
		})
	}
	respondWithSuccess(s, i, formatTable([]string{"ID", "Target", "Due", "In", "Message"}, rows))
}

func (b *Bot) handleRemindersCancel(s *discordgo.Session, i *discordgo.InteractionCreate, user *models.User, sub *discordgo.ApplicationCommandInteractionDataOption) {
	id := sub.Options[0].IntValue()

	reminder, err := b.db.GetReminderByID(context.Background(), id)
	if err != nil {
		logError(s, i.ChannelID, "GetReminderByID", err.Error())
		respondWithError(s, i, "Error looking up reminder: "+err.Error())
		return
	}
	if reminder == nil {
		respondWithError(s, i, fmt.Sprintf("Reminder #%d not found", id))
		return
	}
	if reminder.UserID != user.DiscordID && !isAdmin(s, i.GuildID, user.DiscordID) {
		respondWithError(s, i, "You can only cancel your own reminders")
		return
	}

	// Cancellation is a data mutation; the waiting task observes the flag
	// after it wakes and deletes the row then.
	found, err := b.db.CancelReminder(context.Background(), id)
	if err != nil {
		logError(s, i.ChannelID, "CancelReminder", err.Error())
		respondWithError(s, i, "Error cancelling reminder: "+err.Error())
		return
	}
	if !found {
		respondWithError(s, i, fmt.Sprintf("Reminder #%d not found", id))
		return
	}
	respondWithSuccess(s, i, fmt.Sprintf("Reminder #%d cancelled", id))
}

func (b *Bot) handleEvent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user, err := b.getUserFromInteraction(s, i)
	if err != nil {
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "add":
		b.handleEventAdd(s, i, user, sub)
	case "edit":
		b.handleEventEdit(s, i, user, sub)
	case "remove":
		b.handleEventRemove(s, i, user, sub)
	case "toggle":
		b.handleEventToggle(s, i, sub)
	case "list":
		b.handleEventList(s, i, user)
	}
}

func (b *Bot) handleEventAdd(s *discordgo.Session, i *discordgo.InteractionCreate, user *models.User, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)

	eventTime, err := parseEventDate(opts["date"].StringValue(), user.Timezone)
	if err != nil {
		respondWithError(s, i, err.Error())
		return
	}

	personInCharge := "<@" + user.DiscordID + ">"
	if opts["organizer"] != nil {
		personInCharge = "<@" + opts["organizer"].UserValue(s).ID + ">"
	}

	ev := &models.Event{
		Name:           opts["name"].StringValue(),
		PersonInCharge: personInCharge,
		EventAt:        timeutil.ToEpochSeconds(eventTime),
		CreatedAt:      time.Now(),
	}
	if opts["description"] != nil {
		ev.Description = opts["description"].StringValue()
	}
	if opts["attachment"] != nil {
		ev.Attachments = append(ev.Attachments, opts["attachment"].StringValue())
	}

	next, level, expired := events.CalculateSchedule(eventTime, time.Now())
	ev.NextReminderAt = next
	ev.ReminderLevel = level
	ev.Expired = expired

	if err := b.db.CreateEvent(context.Background(), ev); err != nil {
		logError(s, i.ChannelID, "CreateEvent", err.Error())
		respondWithError(s, i, "Error creating event: "+err.Error())
		return
	}

	msg := fmt.Sprintf("Event #%d **%s** tracked for %s (reminder level %d)",
		ev.ID, ev.Name, formatTime(eventTime, user.Timezone), level)
	if expired {
		msg = fmt.Sprintf("Event #%d **%s** recorded, but its date has already passed", ev.ID, ev.Name)
	}
	respondWithSuccess(s, i, msg)
}

func (b *Bot) handleEventEdit(s *discordgo.Session, i *discordgo.InteractionCreate, user *models.User, sub *discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(sub.Options)
	id := opts["id"].IntValue()

	ev, err := b.db.GetEventByID(context.Background(), id)
	if err != nil {
		logError(s, i.ChannelID, "GetEventByID", err.Error())
		respondWithError(s, i, "Error looking up event: "+err.Error())
		return
	}
	if ev == nil {
		respondWithError(s, i, fmt.Sprintf("Event #%d not found", id))
		return
	}

	if opts["name"] != nil {
		ev.Name = opts["name"].StringValue()
	}
	if opts["description"] != nil {
		ev.Description = opts["description"].StringValue()
	}
	if opts["date"] != nil {
		eventTime, err := parseEventDate(opts["date"].StringValue(), user.Timezone)
		if err != nil {
			respondWithError(s, i, err.Error())
			return
		}
		// A date change resets both reminder tracks and reseeds the
		// schedule through the level calculator.
		ev.EventAt = timeutil.ToEpochSeconds(eventTime)
		ev.PreviouslyReminded = false
		ev.ProposalReminded = false
		next, level, expired := events.CalculateSchedule(eventTime, time.Now())
		ev.NextReminderAt = next
		ev.ReminderLevel = level
		ev.Expired = expired
	}

	if err := b.db.UpdateEvent(context.Background(), ev); err != nil {
		logError(s, i.ChannelID, "UpdateEvent", err.Error())
		respondWithError(s, i, "Error updating event: "+err.Error())
		return
	}
	respondWithSuccess(s, i, fmt.Sprintf("Event #%d updated", id))
}

func (b *Bot) handleEventRemove(s *discordgo.Session, i *discordgo.InteractionCreate, user *models.User, sub *discordgo.ApplicationCommandInteractionDataOption) {
	if !isAdmin(s, i.GuildID, user.DiscordID) {
		respondWithError(s, i, "Only admins can remove events")
		return
	}

	id := sub.Options[0].IntValue()
	ev, err := b.db.GetEventByID(context.Background(), id)
	if err != nil {
		logError(s, i.ChannelID, "GetEventByID", err.Error())
		respondWithError(s, i, "Error looking up event: "+err.Error())
		return
	}
	if ev == nil {
		respondWithError(s, i, fmt.Sprintf("Event #%d not found", id))
		return
	}

	if err := b.db.DeleteEvent(context.Background(), id); err != nil {
		logError(s, i.ChannelID, "DeleteEvent", err.Error())
		respondWithError(s, i, "Error deleting event: "+err.Error())
		return
	}
	respondWithSuccess(s, i, fmt.Sprintf("Event #%d **%s** deleted", id, ev.Name))
}

func (b *Bot) handleEventToggle(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	id := sub.Options[0].IntValue()

	ev, err := b.db.GetEventByID(context.Background(), id)
	if err != nil {
		logError(s, i.ChannelID, "GetEventByID", err.Error())
		respondWithError(s, i, "Error looking up event: "+err.Error())
		return
	}
	if ev == nil {
		respondWithError(s, i, fmt.Sprintf("Event #%d not found", id))
		return
	}

	ev.ReminderDisabled = !ev.ReminderDisabled
	if err := b.db.UpdateEvent(context.Background(), ev); err != nil {
		logError(s, i.ChannelID, "UpdateEvent", err.Error())
		respondWithError(s, i, "Error updating event: "+err.Error())
		return
	}

	state := "enabled"
	if ev.ReminderDisabled {
		state = "disabled"
	}
	respondWithSuccess(s, i, fmt.Sprintf("Reminders for event #%d **%s** are now %s", id, ev.Name, state))
}

func (b *Bot) handleEventList(s *discordgo.Session, i *discordgo.InteractionCreate, user *models.User) {
	all, err := b.db.GetAllEvents(context.Background())
	if err != nil {
		logError(s, i.ChannelID, "GetAllEvents", err.Error())
		respondWithError(s, i, "Error loading events: "+err.Error())
		return
	}
	if len(all) == 0 {
		respondWithSuccess(s, i, "No tracked events")
		return
	}

	rows := make([][]string, 0, len(all))
	for _, ev := range all {
		status := "upcoming"
		if ev.Expired {
			status = "past"
		} else if ev.ReminderDisabled {
			status = "muted"
		}
		rows = append(rows, []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Name,
			formatTime(ev.EventTime(), user.Timezone),
			strconv.Itoa(ev.ReminderLevel),
			status,
		})
	}
	respondWithSuccess(s, i, formatTable([]string{"ID", "Name", "Date", "Level", "Status"}, rows))
}
