package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"port":     "8080",
		"timezone": "Local",
		"log": map[string]interface{}{
			"level": "info",
		},
		"storage": map[string]interface{}{
			"backend":      "", // resolved from database_url when empty
			"sqlite_path":  "medimate.db",
			"database_url": "",
			"redis_url":    "",
			"redis_prefix": "medimate:",
		},
		"scheduler": map[string]interface{}{
			"interval": 60,
			"mode":     ModeTracked,
		},
		"notify": map[string]interface{}{
			"trigger_mode":    TriggerParity,
			"rate_per_second": 1.0,
			"burst":           5,
			"recipient":       "",
		},
		"twilio": map[string]interface{}{
			"account_sid":     "",
			"auth_token":      "",
			"whatsapp_number": "",
		},
		"chat": map[string]interface{}{
			"provider":       ProviderGemini,
			"gemini_api_key": "",
			"gemini_url":     "https://generativelanguage.googleapis.com/v1beta",
			"gemini_model":   "gemini-1.5-flash-latest",
			"openai_api_key": "",
			"timeout":        30,
		},
		"speech": map[string]interface{}{
			"api_key":       "",
			"url":           "https://speech.googleapis.com/v1/speech:recognize",
			"encoding":      "LINEAR16",
			"sample_rate":   16000,
			"language_code": "en-US",
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}
