package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress       string
	AssemblyAIKey     string
	CerebrasKey       string
	CerebrasModelID   string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramVoice     string

	// Default speaking-time limit for new sessions, adjustable per session.
	TimeLimitSeconds int
	// Cap on the synthesized evaluation's spoken length.
	MaxSpeakSeconds int

	// Artifact storage; Supabase when configured, else a local directory,
	// else disabled.
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
	LocalSaveDir           string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}

	cerebrasKey := os.Getenv("CEREBRAS_API_KEY")
	cerebrasModel := os.Getenv("CEREBRAS_MODEL_ID")
	if cerebrasModel == "" {
		cerebrasModel = "gpt-oss-120b"
	}
	if cerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - evaluation generation will not work")
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if elevenKey == "" && deepgramKey == "" {
		log.Println("Warning: no TTS key set - evaluations will be delivered as text only")
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:            addr,
		AssemblyAIKey:          assemblyAIKey,
		CerebrasKey:            cerebrasKey,
		CerebrasModelID:        cerebrasModel,
		ElevenLabsKey:          elevenKey,
		ElevenLabsVoiceID:      voiceID,
		DeepgramKey:            deepgramKey,
		DeepgramVoice:          os.Getenv("DEEPGRAM_VOICE"),
		TimeLimitSeconds:       getEnvInt("TIME_LIMIT_SECONDS", 120),
		MaxSpeakSeconds:        getEnvInt("MAX_SPEAK_SECONDS", 90),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "speech-sessions"),
		LocalSaveDir:           os.Getenv("LOCAL_SAVE_DIR"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}
