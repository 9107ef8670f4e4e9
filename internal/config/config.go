package config

import (
	"os"
	"strconv"
	"time"
)

type QueueConfig struct {
	Port                     string
	DatabaseURL              string
	StoreTimeout             time.Duration
	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
}

type RealtimeConfig struct {
	Port               string
	DatabaseURL        string
	PollInterval       time.Duration
	BatchSize          int
	RateLimitPerMinute int
	RateLimitBurst     int
}

type AnnouncerConfig struct {
	Port           string
	DatabaseURL    string
	PollInterval   time.Duration
	BatchSize      int
	RepeatInterval time.Duration
	Sink           string
}

func LoadQueue() QueueConfig {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return QueueConfig{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		StoreTimeout:             readDurationSeconds("STORE_TIMEOUT_SECONDS", 5),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		ClinicRateLimitPerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateLimitBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func LoadRealtime() RealtimeConfig {
	port := os.Getenv("REALTIME_PORT")
	if port == "" {
		port = "8085"
	}

	return RealtimeConfig{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		PollInterval:       readDurationSeconds("REALTIME_POLL_SECONDS", 1),
		BatchSize:          readInt("REALTIME_BATCH_SIZE", 100),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

func LoadAnnouncer() AnnouncerConfig {
	port := os.Getenv("ANNOUNCE_PORT")
	if port == "" {
		port = "8086"
	}

	return AnnouncerConfig{
		Port:           port,
		DatabaseURL:    os.Getenv("DB_DSN"),
		PollInterval:   readDurationSeconds("ANNOUNCE_POLL_SECONDS", 1),
		BatchSize:      readInt("ANNOUNCE_BATCH_SIZE", 100),
		RepeatInterval: readDurationSeconds("ANNOUNCE_REPEAT_SECONDS", 15),
		Sink:           os.Getenv("ANNOUNCE_SINK"),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
