package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/messaging-api/config"
	"github.com/jwalitptl/messaging-api/internal/repository/postgres"
	"github.com/jwalitptl/messaging-api/internal/service/inspect"
)

// outboxctl answers "why hasn't this been sent yet" without going through the
// API: point it at the database, give it a tenant and an item or aggregate id.
func main() {
	var (
		tenantFlag    = flag.String("tenant", "", "tenant id (required)")
		itemFlag      = flag.Int64("item", 0, "outbox item id to diagnose")
		aggregateFlag = flag.String("aggregate", "", "aggregate id to list items for")
		limitFlag     = flag.Int("limit", 50, "max items to list")
	)
	flag.Parse()

	if *tenantFlag == "" || (*itemFlag == 0 && *aggregateFlag == "") {
		flag.Usage()
		os.Exit(2)
	}

	tenantID, err := uuid.Parse(*tenantFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tenant id")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))
	inspector := inspect.NewService(outboxRepo, cfg.Dispatcher.LeaseDuration)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case *itemFlag != 0:
		diagnosis, err := inspector.Diagnose(ctx, tenantID, *itemFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("diagnose failed")
		}
		printJSON(diagnosis)
	default:
		aggregateID, err := uuid.Parse(*aggregateFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid aggregate id")
		}
		items, err := inspector.ListByAggregate(ctx, tenantID, aggregateID, *limitFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("list failed")
		}
		printJSON(items)
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode output")
	}
	fmt.Println(string(out))
}
