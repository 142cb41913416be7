package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
	"github.com/clinicdesk/checkin-sync/internal/config"
	"github.com/clinicdesk/checkin-sync/internal/db"
)

var categories = []string{"Consultation", "Follow-up", "Aligner fitting", "Hygiene", "Emergency"}

func main() {
	date := flag.String("date", time.Now().Format("2006-01-02"), "date to seed (YYYY-MM-DD)")
	count := flag.Int("count", 25, "appointments to create")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	if !checkin.ValidDate(*date) {
		log.Fatal().Str("date", *date).Msg("date must be YYYY-MM-DD")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pool.Close()

	repo := checkin.NewPgRepository(pool)

	log.Info().Str("date", *date).Int("count", *count).Msg("seeding schedule")

	for i := 0; i < *count; i++ {
		// Spread visits over the working day, a few per half hour.
		slot := 8*60 + (i*30)/2
		scheduled := fmt.Sprintf("%02d:%02d", slot/60, slot%60)

		a := checkin.Appointment{
			Date:          *date,
			PatientID:     int64(gofakeit.Number(1000, 9999)),
			PatientName:   gofakeit.Name(),
			Category:      categories[gofakeit.Number(0, len(categories)-1)],
			ScheduledTime: scheduled,
			Details:       gofakeit.Sentence(6),
			HasNotes:      gofakeit.Bool(),
		}

		created, err := repo.CreateAppointment(ctx, a)
		if err != nil {
			log.Fatal().Err(err).Int("n", i).Msg("create appointment failed")
		}
		log.Info().
			Int64("id", created.ID).
			Str("time", created.ScheduledTime).
			Str("patient", created.PatientName).
			Msg("created")
	}

	log.Info().Msg("seed complete")
}
