// seed inserts demo schedules into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/cronexpr"
	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
)

const seedWorkspace = "ws-seed"

type scheduleSpec struct {
	name        string
	collection  string
	environment string
	cron        string
	tz          string
	status      domain.ScheduleStatus
}

var schedules = []scheduleSpec{
	// Fires often enough to watch retries and overlap skips locally
	{"api smoke", "col-smoke", "env-staging", "* * * * *", "UTC", domain.ScheduleActive},
	{"api smoke (seconds)", "col-smoke", "env-staging", "*/20 * * * * *", "UTC", domain.ScheduleActive},

	// Business-hours regression suites
	{"checkout regression", "col-checkout", "env-staging", "0 9 * * 1-5", "Europe/Berlin", domain.ScheduleActive},
	{"search regression", "col-search", "env-staging", "30 8 * * 1-5", "America/New_York", domain.ScheduleActive},

	// Nightly and weekly
	{"nightly full suite", "col-full", "env-prod", "@daily", "UTC", domain.ScheduleActive},
	{"weekly contract tests", "col-contract", "", "0 3 * * SUN", "Asia/Tokyo", domain.ScheduleActive},

	// Not armed on start
	{"paused load test", "col-load", "env-prod", "*/5 * * * *", "UTC", domain.SchedulePaused},
	{"retired suite", "col-legacy", "", "0 0 1 * *", "UTC", domain.ScheduleInactive},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema: %v", err)
	}

	repo := postgres.NewScheduleRepository(pool)

	// Skip names that already exist so re-runs stay idempotent
	existing, err := repo.List(ctx, repository.ListSchedulesInput{WorkspaceID: seedWorkspace})
	if err != nil {
		log.Fatalf("list schedules: %v", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s.Name] = true
	}

	var inserted, skipped int
	var ids []string
	now := time.Now()

	for _, spec := range schedules {
		if seen[spec.name] {
			skipped++
			continue
		}
		s := &domain.Schedule{
			WorkspaceID:   seedWorkspace,
			Name:          spec.name,
			CollectionID:  spec.collection,
			EnvironmentID: spec.environment,
			CronExpr:      spec.cron,
			Timezone:      spec.tz,
			Status:        spec.status,
		}
		if s.Active() {
			next, err := cronexpr.Next(spec.cron, spec.tz, now)
			if err != nil {
				log.Fatalf("schedule %q: %v", spec.name, err)
			}
			s.NextRunAt = &next
		}
		created, err := repo.Create(ctx, s)
		if err != nil {
			log.Fatalf("insert schedule %q: %v", spec.name, err)
		}
		ids = append(ids, created.ID)
		inserted++
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Workspace:         %s\n", seedWorkspace)
	fmt.Printf("  Schedules created: %d  (skipped %d already existing)\n", inserted, skipped)
	fmt.Println()

	if len(ids) > 0 {
		fmt.Println("  Schedule IDs:")
		for _, id := range ids {
			fmt.Printf("    %s\n", id)
		}
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1: sign an HS256 JWT with JWT_SECRET and claim workspace_id=" + seedWorkspace)
	fmt.Println()
	fmt.Println("  Step 2: list the schedules:")
	fmt.Println()
	fmt.Println("    export JWT=eyJ...")
	fmt.Println("    curl -s http://localhost:8080/schedules -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  Step 3: trigger a run and inspect its history:")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/schedules/SCHEDULE_ID/execute -H \"Authorization: Bearer $JWT\"")
	fmt.Println("    curl -s http://localhost:8080/schedules/SCHEDULE_ID/executions -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    api smoke              →  a run every minute (and every 20s for the seconds variant)")
	fmt.Println("    paused / retired       →  never fire until reactivated with PATCH")
}
