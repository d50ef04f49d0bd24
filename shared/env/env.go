package env

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Known lists the variables the agent reads. Secrets are never echoed.
var Known = []struct {
	Key    string
	Secret bool
}{
	{"TELEGRAM_BOT_TOKEN", true},
	{"TELEGRAM_OPS_CHAT_ID", false},
	{"BITQUERY_API_KEY", true},
	{"BITQUERY_ENDPOINT", false},
	{"HELIUS_RPC_URL", true},
	{"DATABASE_URL", true},
	{"PORT", false},
	{"ENVIRONMENT", false},
	{"LOG_LEVEL", false},
}

// LoadEnv loads .env files (missing files are fine) and logs which known variables are set.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Println("INFO: No .env file found, using process environment.")
		} else {
			log.Printf("WARN: Failed to load .env file: %v", err)
		}
	}
	for _, k := range Known {
		loadEnvVariable(k.Key, k.Secret)
	}
}

func loadEnvVariable(key string, isHidden bool) string {
	value := strings.TrimSpace(os.Getenv(key))
	switch {
	case value == "":
		log.Printf("INFO: Environment variable %s is not set.", key)
	case isHidden:
		log.Printf("INFO: Loaded %s (value hidden)", key)
	default:
		log.Printf("INFO: Loaded %s = %s", key, value)
	}
	return value
}
