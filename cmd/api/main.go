package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"roadflow/assignment"
	"roadflow/auth"
	"roadflow/bid"
	"roadflow/claim"
	"roadflow/db"
	"roadflow/job"
	"roadflow/notify"
	"roadflow/provider"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	authRepo := auth.NewRepository(pool)
	jobRepo := job.NewRepository(pool)
	bidRepo := bid.NewRepository(pool)
	claimRepo := claim.NewRepository(pool)
	providerRepo := provider.NewRepository(pool)

	dispatcher := notify.NewDispatcher(notify.LogSender{}, jobRepo)

	server := &Server{
		authService:     auth.NewService(authRepo, jwtSecret),
		jobService:      job.NewService(pool, jobRepo),
		statusService:   job.NewStatusService(pool, jobRepo).WithNotifier(dispatcher),
		bidService:      bid.NewService(pool, bidRepo, jobRepo),
		assignService:   assignment.NewService(pool, jobRepo, providerRepo),
		claimService:    claim.NewService(pool, claimRepo),
		providerService: provider.NewService(providerRepo),
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
