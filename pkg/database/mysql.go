package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

func RunMigrations(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id VARCHAR(36) PRIMARY KEY,
			workspace_id VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'initializing',
			health_status JSON,
			api_token_enc TEXT NOT NULL,
			webhook_secret VARCHAR(36) NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_channels_status (status),
			INDEX idx_channels_workspace (workspace_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS chats (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			channel_id VARCHAR(36) NOT NULL,
			provider_chat_id VARCHAR(100) NOT NULL,
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			name VARCHAR(255) NOT NULL DEFAULT '',
			last_preview VARCHAR(500) NOT NULL DEFAULT '',
			last_message_at DATETIME,
			unread_count INT NOT NULL DEFAULT 0,
			bot_paused BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_chats_channel_provider (channel_id, provider_chat_id),
			INDEX idx_chats_channel (channel_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			channel_id VARCHAR(36) NOT NULL,
			chat_id BIGINT NOT NULL,
			provider_message_id VARCHAR(100),
			direction VARCHAR(10) NOT NULL,
			type VARCHAR(20) NOT NULL DEFAULT 'text',
			body TEXT NOT NULL,
			media_url TEXT,
			media_path VARCHAR(500),
			media_meta JSON,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			view_once BOOLEAN NOT NULL DEFAULT FALSE,
			sent_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_messages_channel_provider (channel_id, provider_message_id),
			INDEX idx_messages_chat (chat_id),
			INDEX idx_messages_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS outbox_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			channel_id VARCHAR(36) NOT NULL,
			chat_id BIGINT NOT NULL,
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			payload JSON NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 5,
			next_attempt_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			priority INT NOT NULL DEFAULT 0,
			last_error TEXT,
			provider_message_id VARCHAR(100),
			sent_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_outbox_claim (status, next_attempt_at, priority),
			INDEX idx_outbox_channel (channel_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS media_fetch_jobs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_id BIGINT NOT NULL,
			channel_id VARCHAR(36) NOT NULL,
			provider_media_id VARCHAR(100),
			provider_message_id VARCHAR(100),
			media_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			next_attempt_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_media_claim (status, next_attempt_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS webhook_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			channel_id VARCHAR(36) NOT NULL,
			event_type VARCHAR(50) NOT NULL DEFAULT 'unknown',
			payload JSON NOT NULL,
			received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at DATETIME,
			error TEXT,
			INDEX idx_webhook_events_channel (channel_id, received_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS bot_configs (
			channel_id VARCHAR(36) PRIMARY KEY,
			mode VARCHAR(10) NOT NULL DEFAULT 'off',
			service_url VARCHAR(500) NOT NULL DEFAULT '',
			api_key_enc TEXT,
			provider_id VARCHAR(100) NOT NULL DEFAULT '',
			window_start VARCHAR(5),
			window_end VARCHAR(5),
			timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
			auto_pause_on_escalate BOOLEAN NOT NULL DEFAULT FALSE,
			reply_delay_ms INT NOT NULL DEFAULT 0
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS bot_processed_messages (
			channel_id VARCHAR(36) NOT NULL,
			provider_message_id VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'processing',
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (channel_id, provider_message_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS bot_learning_log (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			channel_id VARCHAR(36) NOT NULL,
			chat_id BIGINT NOT NULL,
			provider_message_id VARCHAR(100) NOT NULL,
			inbound_text TEXT NOT NULL,
			intent VARCHAR(100),
			confidence DOUBLE,
			action VARCHAR(10) NOT NULL,
			reply_text TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_bot_learning_channel (channel_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

// SeedTestData inserts one demo channel with a chat and a queued outbox
// entry so the workers have something to chew on locally.
func SeedTestData(db *sqlx.DB) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM channels")
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d channels, skipping seed", count)
		return nil
	}

	channelID := uuid.NewString()
	secret := uuid.NewString()

	_, err = db.Exec(
		`INSERT INTO channels (id, workspace_id, name, status, api_token_enc, webhook_secret)
		 VALUES (?, ?, 'Demo channel', 'active', '', ?)`,
		channelID, uuid.NewString(), secret,
	)
	if err != nil {
		return fmt.Errorf("failed to seed channel: %w", err)
	}

	res, err := db.Exec(
		`INSERT INTO chats (channel_id, provider_chat_id, name) VALUES (?, '15550001111', 'Demo contact')`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("failed to seed chat: %w", err)
	}

	chatID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get seeded chat id: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO outbox_entries (channel_id, chat_id, message_type, payload)
		 VALUES (?, ?, 'text', '{"to":"15550001111","body":"Hello from the relay"}')`,
		channelID, chatID,
	)
	if err != nil {
		return fmt.Errorf("failed to seed outbox entry: %w", err)
	}

	logger.Infof("Seeded demo channel %s (webhook secret %s)", channelID, secret)
	return nil
}
