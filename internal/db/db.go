package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	*pgxpool.Pool
}

func New(dbCfg config.DatabaseConfig) (*DB, error) {
	// Create a configuration object
	cfg, err := pgxpool.ParseConfig(fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName, dbCfg.SSLMode,
	))
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	return &DB{pool}, nil
}

// withRetry runs op up to three times with linear backoff. Transient store
// failures are absorbed here so the scheduling layer can treat a residual
// error as log-and-skip.
func withRetry(op func() error) error {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < maxRetries-1 {
			log.Printf("Store operation failed (attempt %d): %v", i+1, lastErr)
			time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

// GetAllReminders retrieves every persisted reminder.
func (db *DB) GetAllReminders(ctx context.Context) ([]*models.Reminder, error) {
	query := `
		SELECT id, user_id, target_mention, display_target, due_at, guild_id,
		       COALESCE(origin_message_id, ''), channel_id, content, cancelled
		FROM reminders
		ORDER BY id`

	var reminders []*models.Reminder
	err := withRetry(func() error {
		rows, err := db.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		reminders = reminders[:0]
		for rows.Next() {
			r := &models.Reminder{}
			err := rows.Scan(
				&r.ID,
				&r.UserID,
				&r.TargetMention,
				&r.DisplayTarget,
				&r.DueAt,
				&r.GuildID,
				&r.OriginMessageID,
				&r.ChannelID,
				&r.Content,
				&r.Cancelled,
			)
			if err != nil {
				return err
			}
			reminders = append(reminders, r)
		}
		return rows.Err()
	})
	return reminders, err
}

// GetReminderByID retrieves a reminder by id, returning nil when the row no
// longer exists.
func (db *DB) GetReminderByID(ctx context.Context, id int64) (*models.Reminder, error) {
	query := `
		SELECT id, user_id, target_mention, display_target, due_at, guild_id,
		       COALESCE(origin_message_id, ''), channel_id, content, cancelled
		FROM reminders
		WHERE id = $1`

	r := &models.Reminder{}
	err := db.QueryRow(ctx, query, id).Scan(
		&r.ID,
		&r.UserID,
		&r.TargetMention,
		&r.DisplayTarget,
		&r.DueAt,
		&r.GuildID,
		&r.OriginMessageID,
		&r.ChannelID,
		&r.Content,
		&r.Cancelled,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateReminder inserts a new reminder and fills in the store-assigned id.
func (db *DB) CreateReminder(ctx context.Context, r *models.Reminder) error {
	query := `
		INSERT INTO reminders (user_id, target_mention, display_target, due_at,
		                       guild_id, origin_message_id, channel_id, content, cancelled)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		RETURNING id`

	return withRetry(func() error {
		return db.QueryRow(ctx, query,
			r.UserID,
			r.TargetMention,
			r.DisplayTarget,
			r.DueAt,
			r.GuildID,
			r.OriginMessageID,
			r.ChannelID,
			r.Content,
			r.Cancelled,
		).Scan(&r.ID)
	})
}

// DeleteReminder removes a reminder row.
func (db *DB) DeleteReminder(ctx context.Context, id int64) error {
	return withRetry(func() error {
		_, err := db.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
		return err
	})
}

// CancelReminder sets the cancellation flag. The waiting task observes it
// after its wait completes; the row is deleted there, not here.
func (db *DB) CancelReminder(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := withRetry(func() error {
		tag, err := db.Exec(ctx, `UPDATE reminders SET cancelled = TRUE WHERE id = $1`, id)
		if err != nil {
			return err
		}
		found = tag.RowsAffected() > 0
		return nil
	})
	return found, err
}

// GetRemindersByUser retrieves a user's pending reminders in a guild.
func (db *DB) GetRemindersByUser(ctx context.Context, guildID, userID string) ([]*models.Reminder, error) {
	query := `
		SELECT id, user_id, target_mention, display_target, due_at, guild_id,
		       COALESCE(origin_message_id, ''), channel_id, content, cancelled
		FROM reminders
		WHERE guild_id = $1 AND user_id = $2 AND COALESCE(cancelled, FALSE) = FALSE
		ORDER BY due_at`

	rows, err := db.Query(ctx, query, guildID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		r := &models.Reminder{}
		err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.TargetMention,
			&r.DisplayTarget,
			&r.DueAt,
			&r.GuildID,
			&r.OriginMessageID,
			&r.ChannelID,
			&r.Content,
			&r.Cancelled,
		)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// GetAllEvents retrieves every tracked event in the store's natural order.
func (db *DB) GetAllEvents(ctx context.Context) ([]*models.Event, error) {
	query := `
		SELECT id, name, description, person_in_charge, event_at,
		       reminder_disabled, expired, previously_reminded, proposal_reminded,
		       next_reminder_at, reminder_level, attachments, created_at
		FROM events
		ORDER BY id`

	var events []*models.Event
	err := withRetry(func() error {
		rows, err := db.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			ev := &models.Event{}
			err := rows.Scan(
				&ev.ID,
				&ev.Name,
				&ev.Description,
				&ev.PersonInCharge,
				&ev.EventAt,
				&ev.ReminderDisabled,
				&ev.Expired,
				&ev.PreviouslyReminded,
				&ev.ProposalReminded,
				&ev.NextReminderAt,
				&ev.ReminderLevel,
				&ev.Attachments,
				&ev.CreatedAt,
			)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	return events, err
}

// GetEventByID retrieves a tracked event by id, nil when absent.
func (db *DB) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	query := `
		SELECT id, name, description, person_in_charge, event_at,
		       reminder_disabled, expired, previously_reminded, proposal_reminded,
		       next_reminder_at, reminder_level, attachments, created_at
		FROM events
		WHERE id = $1`

	ev := &models.Event{}
	err := db.QueryRow(ctx, query, id).Scan(
		&ev.ID,
		&ev.Name,
		&ev.Description,
		&ev.PersonInCharge,
		&ev.EventAt,
		&ev.ReminderDisabled,
		&ev.Expired,
		&ev.PreviouslyReminded,
		&ev.ProposalReminded,
		&ev.NextReminderAt,
		&ev.ReminderLevel,
		&ev.Attachments,
		&ev.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// CreateEvent inserts a new tracked event and fills in the store-assigned id.
func (db *DB) CreateEvent(ctx context.Context, ev *models.Event) error {
	query := `
		INSERT INTO events (name, description, person_in_charge, event_at,
		                    reminder_disabled, expired, previously_reminded, proposal_reminded,
		                    next_reminder_at, reminder_level, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	return withRetry(func() error {
		return db.QueryRow(ctx, query,
			ev.Name,
			ev.Description,
			ev.PersonInCharge,
			ev.EventAt,
			ev.ReminderDisabled,
			ev.Expired,
			ev.PreviouslyReminded,
			ev.ProposalReminded,
			ev.NextReminderAt,
			ev.ReminderLevel,
			ev.Attachments,
			ev.CreatedAt,
		).Scan(&ev.ID)
	})
}

// UpdateEvent writes back the mutable columns of a tracked event.
func (db *DB) UpdateEvent(ctx context.Context, ev *models.Event) error {
	query := `
		UPDATE events
		SET name = $1, description = $2, person_in_charge = $3, event_at = $4,
		    reminder_disabled = $5, expired = $6, previously_reminded = $7,
		    proposal_reminded = $8, next_reminder_at = $9, reminder_level = $10,
		    attachments = $11
		WHERE id = $12`

	return withRetry(func() error {
		_, err := db.Exec(ctx, query,
			ev.Name,
			ev.Description,
			ev.PersonInCharge,
			ev.EventAt,
			ev.ReminderDisabled,
			ev.Expired,
			ev.PreviouslyReminded,
			ev.ProposalReminded,
			ev.NextReminderAt,
			ev.ReminderLevel,
			ev.Attachments,
			ev.ID,
		)
		return err
	})
}

// DeleteEvent removes a tracked event row.
func (db *DB) DeleteEvent(ctx context.Context, id int64) error {
	return withRetry(func() error {
		_, err := db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
		return err
	})
}

// GetOrCreateUser retrieves a user by Discord ID or creates a new one
func (db *DB) GetOrCreateUser(discordID string, username string) (*models.User, error) {
	// Try to get existing user
	query := `
		SELECT id, discord_id, username, timezone, created_at
		FROM users
		WHERE discord_id = $1`

	user := &models.User{}
	err := db.QueryRow(context.Background(), query, discordID).Scan(
		&user.ID,
		&user.DiscordID,
		&user.Username,
		&user.Timezone,
		&user.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		// Create new user with UTC timezone by default
		user = &models.User{
			ID:        uuid.New(),
			DiscordID: discordID,
			Username:  username,
			Timezone:  "UTC",
			CreatedAt: time.Now(),
		}

		insertQuery := `
			INSERT INTO users (id, discord_id, username, timezone, created_at)
			VALUES ($1, $2, $3, $4, $5)`

		_, err = db.Exec(context.Background(), insertQuery,
			user.ID.String(),
			user.DiscordID,
			user.Username,
			user.Timezone,
			user.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error creating user: %w", err)
		}
		return user, nil
	}

	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	return user, nil
}

// UpdateUserTimezone updates a user's timezone
func (db *DB) UpdateUserTimezone(userID uuid.UUID, timezone string) error {
	query := `
		UPDATE users
		SET timezone = $1
		WHERE id = $2`

	_, err := db.Exec(context.Background(), query, timezone, userID.String())
	return err
}
