package bot

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/db"
	"remindbot/internal/events"
	"remindbot/internal/scheduler"

	"github.com/bwmarrin/discordgo"
)

var (
	dmAllowedCommands = map[string]bool{
		"help": true, // Keep only essential commands in DMs
	}
)

type Bot struct {
	config     *config.Config
	db         *db.DB
	session    *discordgo.Session
	scheduler  *scheduler.Scheduler
	engine     *events.Engine
	shutdownCh chan struct{}
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

func New(cfg *config.Config, database *db.DB) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages

	// Required permissions for visibility
	requiredPermissions := int64(
		discordgo.PermissionViewChannel |
			discordgo.PermissionSendMessages |
			discordgo.PermissionReadMessageHistory |
			discordgo.PermissionUseSlashCommands)

	cfg.Discord.Permissions = requiredPermissions

	log.Printf("Bot intents: %d", session.Identify.Intents)
	log.Printf("Bot permissions: %d", cfg.Discord.Permissions)

	sink := &sessionNotifier{session: session}

	b := &Bot{
		db:         database,
		session:    session,
		config:     cfg,
		shutdownCh: make(chan struct{}),
		isShutdown: false,
	}
	b.scheduler = scheduler.New(database, sink, cfg.Reminders.MaxSingleWait.Std())
	b.engine = events.New(database, sink, events.Config{
		EventChannelID:    cfg.Reminders.EventChannelID,
		ProposalChannelID: cfg.Reminders.ProposalChannelID,
		ErrorChannelID:    cfg.Reminders.ErrorChannelID,
		SweepInterval:     cfg.Reminders.SweepInterval.Std(),
	})
	return b, nil
}

// Helper function to register commands for a guild
func (b *Bot) registerGuildCommands(guildID string) error {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := b.registerGuildCommandsOnce(guildID)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("Attempt %d to register commands failed: %v", i+1, err)
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("failed to register commands after %d attempts: %v", maxRetries, lastErr)
}

func (b *Bot) registerGuildCommandsOnce(guildID string) error {
	serverName := getServerName(b.session, guildID)

	log.Printf(formatLogMessage(
		guildID,
		"Registering commands",
		"BOT",
		serverName,
	))

	// Clear existing commands
	existing, err := b.session.ApplicationCommands(b.config.Discord.ClientID, guildID)
	if err != nil {
		return fmt.Errorf("error getting existing commands: %w", err)
	}

	// Delete all existing commands first
	for _, v := range existing {
		err := b.session.ApplicationCommandDelete(b.config.Discord.ClientID, guildID, v.ID)
		if err != nil {
			log.Printf(formatLogMessage(
				guildID,
				fmt.Sprintf("%s: Failed to delete command (%v)", v.Name, err),
				"BOT",
				serverName,
			))
		} else {
			log.Printf(formatLogMessage(
				guildID,
				fmt.Sprintf("%s: Successfully removed command", v.Name),
				"BOT",
				serverName,
			))
		}
	}

	// Wait a moment to ensure all deletions are processed
	time.Sleep(time.Second)

	// Register new commands
	for _, v := range commands {
		_, err := b.session.ApplicationCommandCreate(b.config.Discord.ClientID, guildID, v)
		if err != nil {
			return fmt.Errorf("error creating command %s: %w", v.Name, err)
		}
		log.Printf(formatLogMessage(
			guildID,
			fmt.Sprintf("%s: Registered command", v.Name),
			"BOT",
			serverName,
		))
	}

	return nil
}

func (b *Bot) Start(ctx context.Context) error {
	log.Println("Starting RemindBot...")

	// Keep trying to connect until successful
	for {
		log.Println("Testing Discord API connection...")
		if _, err := b.session.User("@me"); err != nil {
			log.Printf("Failed to connect to Discord API: %v. Retrying in 5 seconds...", err)
			time.Sleep(5 * time.Second)
			continue
		}
		log.Println("Successfully connected to Discord API")
		break
	}

	// Keep trying to open session until successful
	for {
		if err := b.session.Open(); err != nil {
			log.Printf("Error opening Discord session: %v. Retrying in 5 seconds...", err)
			time.Sleep(5 * time.Second)
			continue
		}
		log.Printf("Session opened successfully (Session ID: %s)", b.session.State.SessionID)
		break
	}

	// Register handlers
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type == discordgo.InteractionApplicationCommand {
			b.handleCommand(s, i)
		}
	})

	// Force re-register commands for all guilds
	log.Println("Force re-registering commands for all guilds...")
	for _, guild := range b.session.State.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			log.Printf("Error registering commands for guild %s: %v", guild.ID, err)
		}
	}

	// Now add the guild create handler for future guilds
	b.session.AddHandler(b.handleGuildCreate)

	// Recover persisted reminders and arm their wait tasks.
	if err := b.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("error starting reminder scheduler: %w", err)
	}

	// Start the event reminder sweep. Fail-stop: if the loop dies it is
	// reported, not restarted.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.engine.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Event reminder engine terminated: %v", err)
		}
	}()

	log.Println("Bot is now running. Press CTRL-C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()
	return b.Shutdown()
}

// Shutdown performs a graceful shutdown of the bot
func (b *Bot) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	// Ensure we only close the channel once
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	b.isShutdown = true
	close(b.shutdownCh)
	b.mu.Unlock()

	// Wait for the sweep loop and active handlers to complete
	log.Println("Waiting for active handlers to complete...")
	b.wg.Wait()
	b.scheduler.Wait()

	// Remove commands
	log.Printf(formatLogMessage("", "Removing Discord commands", "BOT", ""))

	for _, guild := range b.session.State.Guilds {
		serverName := getServerName(b.session, guild.ID)

		log.Printf(formatLogMessage(guild.ID, "Removing commands", "BOT", serverName))

		registeredCommands, err := b.session.ApplicationCommands(b.config.Discord.ClientID, guild.ID)
		if err != nil {
			log.Printf(formatLogMessage(guild.ID, fmt.Sprintf("Error getting commands: %v", err), "BOT", serverName))
			continue
		}
		for _, cmd := range registeredCommands {
			err := b.session.ApplicationCommandDelete(b.config.Discord.ClientID, guild.ID, cmd.ID)
			if err != nil {
				log.Printf(formatLogMessage(guild.ID, fmt.Sprintf("%s: Failed to remove command (%v)", cmd.Name, err), "BOT", serverName))
			} else {
				log.Printf(formatLogMessage(guild.ID, fmt.Sprintf("%s: Successfully removed command", cmd.Name), "BOT", serverName))
			}
		}
	}

	// Close Discord session
	log.Println("Closing Discord session...")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}

	// Close database connection
	log.Println("Closing database connection...")
	b.db.Close()

	log.Println("Shutdown completed successfully")
	return nil
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Bot is ready! Connected to %d guilds", len(r.Guilds))
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Printf(formatLogMessage(g.ID, "Bot joined new guild", "BOT", g.Name))

	// Register commands for the new guild
	if err := b.registerGuildCommands(g.ID); err != nil {
		log.Printf(formatLogMessage(g.ID, fmt.Sprintf("Error registering commands: %v", err), "BOT", g.Name))
	} else {
		log.Printf(formatLogMessage(g.ID, "Successfully registered all commands", "BOT", g.Name))
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Add defer to catch panics with stack trace
	defer func() {
		if r := recover(); r != nil {
			var username, context string
			if i.Member != nil && i.Member.User != nil {
				username = i.Member.User.Username
				if guild, err := s.Guild(i.GuildID); err == nil {
					context = fmt.Sprintf("guild %s (%s)", guild.Name, i.GuildID)
				} else {
					context = fmt.Sprintf("guild ID %s", i.GuildID)
				}
			} else if i.User != nil {
				username = i.User.Username
				context = "DM"
			} else {
				username = "unknown"
				context = "unknown context"
			}

			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Printf("Panic in command handler for user %s in %s:\nError: %v\nStack Trace:\n%s",
				username, context, r, string(buf[:n]))

			respondWithError(s, i, "An internal error occurred")
		}
	}()

	commandName := i.ApplicationCommandData().Name

	// Strict DM check
	if i.GuildID == "" {
		if !dmAllowedCommands[commandName] {
			respondWithError(s, i, fmt.Sprintf("The `/%s` command can only be used in a server", commandName))
			return
		}
	}

	if i.GuildID != "" {
		if !hasPermission(s, i.GuildID, i.Member.User.ID, discordgo.PermissionViewChannel) {
			respondWithError(s, i, "You don't have permission to use this command here")
			return
		}
	}

	// Acknowledge first; handlers answer through followup messages
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf(formatLogMessage(i.GuildID, "Error acknowledging interaction: "+err.Error(), "", ""))
		return
	}

	switch commandName {
	case "timezone":
		b.handleTimezone(s, i)
	case "remind":
		b.handleRemind(s, i)
	case "reminders":
		b.handleReminders(s, i)
	case "event":
		b.handleEvent(s, i)
	default:
		log.Printf(formatLogMessage(i.GuildID, "Unknown command: "+commandName, "", ""))
		respondWithError(s, i, "Unknown command")
	}
}
