package config

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket  string        `yaml:"minio_bucket"`
	App          App           `yaml:"app"`
	DB           *sql.DB       `yaml:"db"`
	DatabaseURL  string        `yaml:"postgresql_host"`
	Queue        *RabbitMQ     `yaml:"rabbitmq"`
	Kafka        Kafka         `yaml:"kafka"`
	Storage      *minio.Client `yaml:"storage"`
	MinIO        MinIO         `yaml:"minio"`
	Server       Server        `yaml:"server"`
	Recording    Recording     `yaml:"recording"`
	Paths        Paths         `yaml:"paths"`
	Artifacts    string        `yaml:"artifacts_driver"`
	EventsDriver string        `yaml:"events_driver"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

// Recording holds the tunables of the ingest and encode pipeline.
type Recording struct {
	TargetFPS         int           `yaml:"target_fps"`
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	CRF               int           `yaml:"crf"`
	WriterConcurrency int           `yaml:"writer_concurrency"`
	WriterBuffer      int           `yaml:"writer_buffer"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	Retention         time.Duration `yaml:"retention"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
}

type Paths struct {
	WorkDir       string `yaml:"work_dir"`
	CompletedDir  string `yaml:"completed_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type MinIO struct {
	URL           string        `yaml:"url"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	DialTries    int    `json:"dial_tries"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 1)

	viper.SetDefault("recording.target_fps", 30)
	viper.SetDefault("recording.width", 1920)
	viper.SetDefault("recording.height", 1080)
	viper.SetDefault("recording.crf", 23)
	viper.SetDefault("recording.writer_concurrency", 2)
	viper.SetDefault("recording.writer_buffer", 512)
	viper.SetDefault("recording.drain_timeout", 10*time.Second)
	viper.SetDefault("recording.grace_period", 500*time.Millisecond)
	viper.SetDefault("recording.retention", 30*time.Minute)
	viper.SetDefault("recording.reap_interval", time.Minute)
	viper.SetDefault("recording.ffmpeg_path", "ffmpeg")
	viper.SetDefault("recording.ffprobe_path", "ffprobe")

	viper.SetDefault("storage.work_dir", "temp")
	viper.SetDefault("storage.completed_dir", "recordings")
	viper.SetDefault("storage.public_base_url", "/files")

	viper.SetDefault("artifacts.driver", "local")
	viper.SetDefault("minio.presign_expiry", 24*time.Hour)

	viper.SetDefault("events.driver", "none")
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("rabbitmq_exchange", "recording_exchange")
	viper.SetDefault("kafka.topic", "recording.events")
}

func Load(path string) (*Config, error) {
	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("recorder")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var db *sql.DB
	dsn := viper.GetString("postgresql_host")
	if dsn != "" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		Kind:         viper.GetString("rabbitmq_kind"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		DialTries:    viper.GetInt("rabbitmq_dial_tries"),
	}

	var minioClient *minio.Client
	if url := viper.GetString("minio.url"); url != "" {
		minioClient, err = minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: viper.GetBool("minio.secure"),
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Recording: Recording{
			TargetFPS:         viper.GetInt("recording.target_fps"),
			Width:             viper.GetInt("recording.width"),
			Height:            viper.GetInt("recording.height"),
			CRF:               viper.GetInt("recording.crf"),
			WriterConcurrency: viper.GetInt("recording.writer_concurrency"),
			WriterBuffer:      viper.GetInt("recording.writer_buffer"),
			DrainTimeout:      viper.GetDuration("recording.drain_timeout"),
			GracePeriod:       viper.GetDuration("recording.grace_period"),
			Retention:         viper.GetDuration("recording.retention"),
			ReapInterval:      viper.GetDuration("recording.reap_interval"),
			FFmpegPath:        viper.GetString("recording.ffmpeg_path"),
			FFprobePath:       viper.GetString("recording.ffprobe_path"),
		},
		Paths: Paths{
			WorkDir:       viper.GetString("storage.work_dir"),
			CompletedDir:  viper.GetString("storage.completed_dir"),
			PublicBaseURL: viper.GetString("storage.public_base_url"),
		},
		MinIO: MinIO{
			URL:           viper.GetString("minio.url"),
			PresignExpiry: viper.GetDuration("minio.presign_expiry"),
		},
		Kafka: Kafka{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
		},
		Artifacts:    viper.GetString("artifacts.driver"),
		EventsDriver: viper.GetString("events.driver"),
		DatabaseURL:  dsn,
		DB:           db,
		Queue:        rabbitmq,
		Storage:      minioClient,
	}, nil
}
