package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pginfra "live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	boardTTL := config.TTLDuration(cfg.Leaderboard.TTL, 3*time.Second)

	var repo app.SessionRepository
	var bank app.QuestionBank
	var users app.UserDirectory

	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		repo = pginfra.NewSessionStore(db)
		bank = pginfra.NewQuestionBank(pool)
		users = pginfra.NewUserDirectory(pool)
	} else {
		log.Printf("postgres not configured, running in-memory with sample data")
		repo = memory.NewSessionStore()
		bank = memory.NewQuestionBank(sampleQuestions())
		users = memory.NewUserDirectory(sampleUsers()...)
	}

	if redisClient != nil {
		bank = redisinfra.NewQuestionCache(redisClient, bank, questionTTL)
	} else {
		bank = memory.NewQuestionCache(bank, questionTTL)
	}

	opts := []app.Option{}
	if redisClient != nil {
		opts = append(opts, app.WithLeaderboardCache(redisinfra.NewLeaderboardCache(redisClient, boardTTL)))
	}
	if cfg.Scoring.BasePoints > 0 || cfg.Scoring.MaxTimeBonus > 0 {
		opts = append(opts, app.WithScoreFunc(app.BaseBonusScore(cfg.Scoring.BasePoints, cfg.Scoring.MaxTimeBonus)))
	}

	service := app.NewSessionService(repo, bank, users, opts...)
	handler := transport.NewHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions seeds the in-memory bank for demo runs without Postgres.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "The Sun is a star.", CorrectAnswer: true, Explanation: "The Sun is a G-type main-sequence star.", Category: "science", Difficulty: "easy"},
		{ID: "q2", Text: "Sound travels faster than light.", CorrectAnswer: false, Explanation: "Light is roughly a million times faster than sound.", Category: "science", Difficulty: "easy"},
		{ID: "q3", Text: "Water boils at 100 degrees Celsius at sea level.", CorrectAnswer: true, Explanation: "At one atmosphere of pressure, water boils at 100C.", Category: "science", Difficulty: "easy"},
		{ID: "q4", Text: "The Great Wall of China is visible from the Moon.", CorrectAnswer: false, Explanation: "It is far too narrow to be seen from that distance.", Category: "history", Difficulty: "medium"},
		{ID: "q5", Text: "Octopuses have three hearts.", CorrectAnswer: true, Explanation: "Two pump blood to the gills, one to the body.", Category: "science", Difficulty: "medium"},
	}
}

func sampleUsers() []domain.User {
	return []domain.User{
		{ID: "teacher-1", DisplayName: "Ms. Rivera", Role: domain.RoleTeacher},
		{ID: "student-1", DisplayName: "Alice", Role: domain.RoleStudent},
		{ID: "student-2", DisplayName: "Bob", Role: domain.RoleStudent},
		{ID: "student-3", DisplayName: "Carol", Role: domain.RoleStudent},
	}
}
