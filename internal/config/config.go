package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Speech struct {
		APIKey          string
		WSURL           string
		Model           string
		Voice           string
		ReconnectMax    int
		ReconnectBaseMs int
	}
	LLM struct {
		APIKey string
		Model  string
	}
	Session struct {
		IdleTTLSeconds         int
		EventCap               int
		AnalysisJoinTimeoutSec int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("speech.ws_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("speech.model", "gpt-4o-realtime-preview")
	v.SetDefault("speech.voice", "alloy")
	v.SetDefault("speech.reconnect_max", 5)
	v.SetDefault("speech.reconnect_base_ms", 250)

	v.SetDefault("llm.model", "gpt-4o-mini")

	v.SetDefault("session.idle_ttl_seconds", 600)
	v.SetDefault("session.event_cap", 200)
	v.SetDefault("session.analysis_join_timeout_sec", 10)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("speech.api_key", "SPEECH_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("speech.ws_url", "SPEECH_WS_URL")
	v.BindEnv("speech.model", "SPEECH_MODEL")
	v.BindEnv("speech.voice", "SPEECH_VOICE")
	v.BindEnv("speech.reconnect_max", "SPEECH_RECONNECT_MAX")
	v.BindEnv("speech.reconnect_base_ms", "SPEECH_RECONNECT_BASE_MS")

	v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("llm.model", "LLM_MODEL")

	v.BindEnv("session.idle_ttl_seconds", "SESSION_IDLE_TTL_S")
	v.BindEnv("session.event_cap", "SESSION_EVENT_CAP")
	v.BindEnv("session.analysis_join_timeout_sec", "ANALYSIS_JOIN_TIMEOUT_S")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Speech.APIKey = v.GetString("speech.api_key")
	c.Speech.WSURL = v.GetString("speech.ws_url")
	c.Speech.Model = v.GetString("speech.model")
	c.Speech.Voice = v.GetString("speech.voice")
	c.Speech.ReconnectMax = v.GetInt("speech.reconnect_max")
	c.Speech.ReconnectBaseMs = v.GetInt("speech.reconnect_base_ms")

	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Model = v.GetString("llm.model")

	c.Session.IdleTTLSeconds = v.GetInt("session.idle_ttl_seconds")
	c.Session.EventCap = v.GetInt("session.event_cap")
	c.Session.AnalysisJoinTimeoutSec = v.GetInt("session.analysis_join_timeout_sec")

	log.Printf("config loaded: port=%s speech_model=%s llm_model=%s", c.Server.Port, c.Speech.Model, c.LLM.Model)
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
