package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	CacheDir    string
	DownloadDir string
	ListenPort  uint16
	DB          *DBConfig
}

func NewAppConfig() *AppConfig {
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "storage/cache"
	}

	downloadDir := os.Getenv("DOWNLOAD_DIR")
	if downloadDir == "" {
		downloadDir = "storage/downloads"
	}

	var listenPort uint16 = 6881
	if p := os.Getenv("LISTEN_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 65535 {
			listenPort = uint16(n)
		}
	}

	dbConf := NewDBConfig()

	return &AppConfig{
		CacheDir:    cacheDir,
		DownloadDir: downloadDir,
		ListenPort:  listenPort,
		DB:          dbConf,
	}
}

var Main *AppConfig

func init() {
	_ = godotenv.Load()
	Main = NewAppConfig()
}
