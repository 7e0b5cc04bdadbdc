package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type seedPlan struct {
	Practitioners int
	Rooms         int
	Days          int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal("seed writes to postgres; set STORE_DRIVER=postgres")
	}

	logger := logging.New(cfg.LogLevel).With("service", "seed")
	loc := timezone.Location(cfg.ClinicTimezone)

	plan := seedPlan{
		Practitioners: getInt("SEED_PRACTITIONERS", 20),
		Rooms:         getInt("SEED_ROOMS", 8),
		Days:          getInt("SEED_DAYS", 14),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	manager := schedule.NewService(schedule.NewPgRepository(pool, loc), loc, logger)

	created, skipped, err := seedSchedules(context.Background(), manager, gofakeit.New(0), loc, plan)
	if err != nil {
		log.Fatalf("seed schedules: %v", err)
	}

	logger.Info("seed complete", "schedules", created, "skipped_overlaps", skipped)
}

// seedSchedules registers one block per practitioner per day. Blocks that
// collide with an earlier one for the same room are skipped.
func seedSchedules(ctx context.Context, manager *schedule.Service, faker *gofakeit.Faker, loc *time.Location, plan seedPlan) (created, skipped int, err error) {
	practitioners := make([]struct {
		id        uuid.UUID
		specialty uuid.UUID
	}, plan.Practitioners)
	specialties := make([]uuid.UUID, 10)
	for i := range specialties {
		specialties[i] = uuid.New()
	}
	for i := range practitioners {
		practitioners[i].id = uuid.New()
		practitioners[i].specialty = specialties[faker.Number(0, len(specialties)-1)]
	}

	rooms := make([]string, plan.Rooms)
	for i := range rooms {
		rooms[i] = fmt.Sprintf("%s-%d", faker.RandomString([]string{"A", "B", "C", "D"}), 100+i)
	}

	today := timezone.StartOfDay(time.Now(), loc)
	for day := 1; day <= plan.Days; day++ {
		date := today.AddDate(0, 0, day).Format(timezone.DateLayout)

		for _, p := range practitioners {
			startHour := faker.Number(8, 15)
			hours := faker.Number(1, 4)

			_, err := manager.CreateSchedule(ctx, schedule.CreateScheduleInput{
				PractitionerID: p.id,
				SpecialtyID:    p.specialty,
				Room:           rooms[faker.Number(0, len(rooms)-1)],
				Date:           date,
				Start:          fmt.Sprintf("%02d:00", startHour),
				End:            fmt.Sprintf("%02d:00", startHour+hours),
				SlotMinutes:    faker.RandomInt([]int{15, 20, 30, 45}),
			})
			switch {
			case err == nil:
				created++
			case apperr.IsKind(err, apperr.KindConflict):
				skipped++
			default:
				return created, skipped, err
			}
		}
		log.Printf("schedules seeded for %s: %d so far", date, created)
	}

	return created, skipped, nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
