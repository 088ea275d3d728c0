package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env        string
	ListenAddr string

	MongoURI  string
	MongoDB   string
	RedisAddr string
	// BusBackend selects the event bus implementation: "memory" or "redis".
	BusBackend string

	// CameraURL is an IP-camera snapshot endpoint; empty selects the stub
	// camera. AudioPCMPath is a raw s16le PCM file or FIFO; empty selects
	// the silent stub device.
	CameraURL    string
	AudioPCMPath string

	VisionServiceURL string
	VisionSkip       bool
	SpeechServiceURL string
	SpeechAPIKey     string
	SpeechSkip       bool
	ChatModel        string

	// Recognition and gesture tuning.
	FaceTolerance     float64
	HandRaiseThresh   float64
	HandRaiseCooldown time.Duration

	// Frame and audio cadence.
	FrameInterval    time.Duration
	CaptureDuration  time.Duration
	AudioSampleRate  int
	AudioChunkFrames int

	// Registration capture window, in frames.
	RegistrationMaxAttempts int
}

// Load returns application config populated from environment variables with
// sensible defaults. A .env file in the working directory is applied first
// when present.
func Load() App {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	return App{
		Env:        getEnv("APP_ENV", "dev"),
		ListenAddr: getEnv("LISTEN_ADDR", "127.0.0.1:8085"),

		MongoURI:   getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:    getEnv("MONGODB_DATABASE", "classtrack"),
		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		BusBackend: getEnv("BUS_BACKEND", "memory"),

		CameraURL:    getEnv("CAMERA_URL", ""),
		AudioPCMPath: getEnv("AUDIO_PCM_PATH", ""),

		VisionServiceURL: getEnv("VISION_SERVICE_URL", "http://localhost:8000"),
		VisionSkip:       boolEnv("VISION_SKIP", false),
		SpeechServiceURL: getEnv("SPEECH_SERVICE_URL", "https://api.openai.com/v1"),
		SpeechAPIKey:     getEnv("OPENAI_API_KEY", ""),
		SpeechSkip:       boolEnv("SPEECH_SKIP", false),
		ChatModel:        getEnv("CHAT_MODEL", "gpt-4-turbo-preview"),

		FaceTolerance:     floatEnv("FACE_TOLERANCE", 0.6),
		HandRaiseThresh:   floatEnv("HAND_RAISE_THRESHOLD", 0.3),
		HandRaiseCooldown: durationEnv("HAND_RAISE_COOLDOWN", 5*time.Second),

		FrameInterval:    durationEnv("FRAME_INTERVAL", 33*time.Millisecond),
		CaptureDuration:  durationEnv("CAPTURE_DURATION", 10*time.Second),
		AudioSampleRate:  intEnv("AUDIO_SAMPLE_RATE", 44100),
		AudioChunkFrames: intEnv("AUDIO_CHUNK_FRAMES", 2048),

		RegistrationMaxAttempts: intEnv("REGISTRATION_MAX_ATTEMPTS", 100),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
