package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/aircast/aircast/internal/api"
	"github.com/aircast/aircast/internal/forecast"
	"github.com/aircast/aircast/internal/ingest"
	"github.com/aircast/aircast/internal/store"
)

type CLI struct {
	DB       string `name:"db" env:"AIRCAST_DB" default:"data/aircast.db" help:"Path to SQLite database."`
	Port     string `name:"port" env:"AIRCAST_PORT" default:"8080" help:"HTTP server port."`
	Broker   string `name:"broker" env:"AIRCAST_BROKER" default:"tcp://localhost:1883" help:"MQTT broker URL."`
	Topic    string `name:"topic" env:"AIRCAST_TOPIC" default:"aircast/readings/#" help:"MQTT topic for sensor readings."`
	ClientID string `name:"client-id" env:"AIRCAST_CLIENT_ID" default:"aircast-server" help:"MQTT client ID."`
	ModelDir string `name:"model-dir" env:"AIRCAST_MODEL_DIR" default:"data/models" help:"Directory for persisted model artifacts."`

	NoIngest  bool `name:"no-ingest" help:"Disable MQTT ingestion (server only, for local dev)."`
	TrainOnce bool `name:"train-once" help:"Train a model on stored readings and exit."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("aircast"),
		kong.Description("Air quality forecasting service with closed-loop accuracy tracking."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	scheduler := forecast.NewScheduler(st, forecast.DefaultConfig(cli.ModelDir))

	if cli.TrainOnce {
		log.Println("running single training pass")
		if err := scheduler.Retrain(); err != nil {
			log.Fatalf("train: %v", err)
		}
		log.Println("done")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cli.NoIngest {
		subscriber := ingest.NewSubscriber(ingest.SubscriberConfig{
			Broker:   cli.Broker,
			ClientID: cli.ClientID,
			Topic:    cli.Topic,
		}, st)
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				log.Printf("ingest: %v", err)
			}
		}()
	} else {
		log.Println("ingestion disabled (--no-ingest)")
	}

	go scheduler.Run(ctx)

	server := api.NewServer(st, scheduler, cli.Port)
	log.Printf("starting server on :%s", cli.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
