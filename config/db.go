package config

import "os"

// DBConfig holds the chunk store's SQLite location.
type DBConfig struct {
	Path string
}

func NewDBConfig() *DBConfig {
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "storage/chunks.db"
	}
	return &DBConfig{
		Path: path,
	}
}
