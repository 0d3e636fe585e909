package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/leadloop/outreach-backend/internal/config"
	"github.com/leadloop/outreach-backend/internal/db"
	"github.com/leadloop/outreach-backend/internal/handler"
	"github.com/leadloop/outreach-backend/internal/queue"
	"github.com/leadloop/outreach-backend/internal/ratelimit"
	"github.com/leadloop/outreach-backend/internal/repository"
	"github.com/leadloop/outreach-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on OS environment variables")
	}

	cfg := config.Parse()
	db.Init(cfg.DBURL)
	if err := db.Migrate(db.DB, "migrations"); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	// CRM sync events go through AMQP when a broker is configured; the
	// in-memory queue keeps local development broker-free.
	var q queue.Queue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.DialAMQP(cfg.AMQPURL)
		if err != nil {
			log.WithError(err).Warn("AMQP unavailable, falling back to in-memory queue")
			q = queue.NewInMemoryQueue()
		} else {
			defer amqpQueue.Close()
			q = amqpQueue
		}
	} else {
		q = queue.NewInMemoryQueue()
	}

	leadRepo := &repository.LeadRepository{DB: db.DB}
	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	runRepo := &repository.RunRepository{DB: db.DB}

	campaignService := &service.CampaignService{
		DB:        db.DB,
		Campaigns: campaignRepo,
		Leads:     leadRepo,
		Enroller: &service.Enroller{
			Leads:  leadRepo,
			Budget: cfg.InteractiveEnrollBudget,
		},
		Queue:          q,
		SyncTopic:      cfg.SyncQueueName,
		InteractiveCap: cfg.InteractiveEnrollCap,
	}

	activationService := &service.ActivationService{
		DB:        db.DB,
		Campaigns: campaignRepo,
		Leads:     leadRepo,
		Enroller: &service.Enroller{
			Leads:  leadRepo,
			Budget: cfg.ScheduledEnrollBudget,
		},
		ScheduledCap: cfg.ScheduledEnrollCap,
		Staleness:    cfg.ActivationStaleness,
	}

	deEnrollService := &service.DeEnrollmentService{
		DB:           db.DB,
		Leads:        leadRepo,
		Campaigns:    campaignRepo,
		Runs:         runRepo,
		BatchSize:    cfg.DeEnrollBatchSize,
		RunBudget:    cfg.DeEnrollRunBudget,
		GlobalBudget: cfg.DeEnrollGlobalBudget,
	}

	healthService := &service.HealthService{
		Runs:             runRepo,
		Leads:            leadRepo,
		Window:           24 * time.Hour,
		FailureThreshold: 2,
		StuckAfter:       48 * time.Hour,
	}

	limiter := &ratelimit.Limiter{
		DB:     db.DB,
		Limit:  cfg.RateLimitPerWindow,
		Window: cfg.RateLimitWindow,
	}

	campaignHandler := &handler.CampaignHandler{
		Service: campaignService,
		Limiter: limiter,
	}
	cronHandler := &handler.CronHandler{
		Secret:     cfg.CronSecret,
		Activation: activationService,
		DeEnroll:   deEnrollService,
		Health:     healthService,
		Runs:       runRepo,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", campaignHandler.CreateCampaignHandler)
		r.Post("/custom", campaignHandler.CreateCustomCampaignHandler)
		r.Post("/preview-leads", campaignHandler.PreviewLeadsHandler)
		r.Get("/", campaignHandler.ListCampaignsHandler)
		r.Get("/{id}", campaignHandler.GetCampaignHandler)
	})

	r.Route("/api/cron", func(r chi.Router) {
		r.Use(cronHandler.Authenticate)
		r.Post("/activate-campaigns", cronHandler.ActivateCampaignsHandler)
		r.Post("/de-enroll", cronHandler.DeEnrollHandler)
		r.Get("/de-enroll/runs/{id}", cronHandler.GetRunHandler)
		r.Get("/de-enroll/health", cronHandler.DeEnrollHealthHandler)
	})

	log.WithField("port", cfg.Port).Info("server running")
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
