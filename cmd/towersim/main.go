package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/airspacelab/vectorsim/internal/auth"
	"github.com/airspacelab/vectorsim/internal/env"
	"github.com/airspacelab/vectorsim/internal/system"
	"github.com/airspacelab/vectorsim/pkg/events"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	scenario := os.Getenv("SCENARIO")
	if scenario == "" {
		scenario = "crossing_4"
	}

	reportDir := os.Getenv("REPORT_DIR")
	if reportDir == "" {
		reportDir = "./reports"
	}

	cfg := system.Config{
		HTTPPort:     port,
		JWTSecret:    os.Getenv("JWT_SECRET"),
		NATSURL:      os.Getenv("NATS_URL"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: os.Getenv("INFLUX_BUCKET"),
		Scenario:     scenario,
		ReportDir:    reportDir,
	}

	sys := system.New(cfg)

	if sys.Auth != nil {
		name := os.Getenv("ADMIN_NAME")
		password := os.Getenv("ADMIN_PASSWORD")
		if name != "" && password != "" {
			if _, err := sys.Auth.Register(name, password, auth.RoleAdmin); err != nil {
				log.Fatalf("Failed to register admin operator: %v", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sys.Start(ctx); err != nil {
		log.Fatalf("Failed to start analysis system: %v", err)
	}

	// Demo loop: drive the environment with a random policy so the
	// pipeline has live telemetry. Disable with DEMO=off when an
	// external training loop feeds the bus instead.
	if os.Getenv("DEMO") != "off" {
		go runDemoLoop(ctx, sys, scenario)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	sys.Shutdown()
}

// runDemoLoop plays episodes with small random vectoring commands,
// publishing decision events alongside the wrapper's step events.
func runDemoLoop(ctx context.Context, sys *system.System, scenario string) {
	seed := int64(1)
	if s := os.Getenv("SEED"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			seed = v
		}
	}

	e, err := env.New(env.Config{Scenario: scenario, Seed: seed})
	if err != nil {
		log.Printf("demo: create environment: %v", err)
		return
	}
	wrapped := sys.WrapEnv(e)
	rng := rand.New(rand.NewSource(seed))

	for episode := 0; ; episode++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		episodeID := uuid.New().String()
		obs, _ := wrapped.Reset(seed + int64(episode))
		total := 0.0
		steps := 0

		for {
			action := make([]float64, env.ActionSize)
			for i := range action {
				action[i] = rng.Float64()*2 - 1
			}

			publishDecision(sys.Bus, episodeID, steps, obs, action, rng)

			var reward float64
			var terminated, truncated bool
			obs, reward, terminated, truncated, _, err = wrapped.Step(action)
			if err != nil {
				log.Printf("demo: step: %v", err)
				return
			}
			total += reward
			steps++

			if terminated || truncated {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}

		publishEpisodeEnd(sys.Bus, episodeID, episode, total, steps)
		if episode%10 == 0 {
			publishIteration(sys.Bus, episode/10, total, steps)
		}
	}
}

func publishDecision(bus *events.Bus, episodeID string, step int, obs, action []float64, rng *rand.Rand) {
	event, err := events.New(events.PolicyDecision, events.DecisionPayload{
		Observation:   obs,
		Action:        action,
		ValueEstimate: rng.NormFloat64(),
		Confidence: map[string]float64{
			"action_confidence": 0.4 + rng.Float64()*0.6,
		},
		EpisodeID:  episodeID,
		StepNumber: step,
	})
	if err != nil {
		return
	}
	bus.PublishAsync(event)
}

func publishEpisodeEnd(bus *events.Bus, episodeID string, episode int, total float64, length int) {
	event, err := events.New(events.TrainingEpisodeEnd, events.EpisodePayload{
		EpisodeID:   episodeID,
		Episode:     episode,
		TotalReward: total,
		Length:      length,
	})
	if err != nil {
		return
	}
	bus.PublishAsync(event)
}

func publishIteration(bus *events.Bus, iteration int, rewardMean float64, lenMean int) {
	event, err := events.New(events.TrainingIteration, events.IterationPayload{
		Iteration:         iteration,
		EpisodeRewardMean: rewardMean,
		EpisodeLenMean:    float64(lenMean),
	})
	if err != nil {
		return
	}
	bus.PublishAsync(event)
}
