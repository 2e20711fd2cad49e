package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/samber/do/v2"
	"github.com/shopspring/decimal"
	"github.com/vreid/shobu/internal/pkg/common"
	"github.com/vreid/shobu/internal/pkg/escrow"
	"github.com/vreid/shobu/internal/pkg/ledger"
	"github.com/vreid/shobu/internal/pkg/match"
	"github.com/vreid/shobu/internal/pkg/store"
	"github.com/vreid/shobu/internal/pkg/verifier"

	"github.com/urfave/cli/v3"
)

type ShobuService struct {
	EchoService *common.EchoService `do:""`

	HTTPService *match.HTTPService `do:""`
}

//nolint:funlen
func runServer(_ context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "debug", cmd.Bool("debug"))
	do.ProvideNamedValue(i, "admin-token", cmd.String("admin-token"))

	do.Provide(i, common.NewLoggerService)
	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)

	loggerService, err := do.Invoke[*common.LoggerService](i)
	if err != nil {
		return fmt.Errorf("failed to create logger service: %w", err)
	}

	logger := loggerService.Logger

	databaseService, err := do.Invoke[*common.DatabaseService](i)
	if err != nil {
		return fmt.Errorf("failed to create database service: %w", err)
	}

	boltStore := store.NewBolt(databaseService)

	publicKey, err := hex.DecodeString(cmd.String("verifier-public-key"))
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("verifier-public-key must be a hex-encoded ed25519 public key")
	}

	feeRate, err := decimal.NewFromString(cmd.String("fee-rate"))
	if err != nil {
		return fmt.Errorf("failed to parse fee-rate: %w", err)
	}

	treasuryRatio, err := decimal.NewFromString(cmd.String("treasury-ratio"))
	if err != nil {
		return fmt.Errorf("failed to parse treasury-ratio: %w", err)
	}

	matchConfig := match.DefaultConfig()

	matchConfig.MinWager, err = decimal.NewFromString(cmd.String("min-wager"))
	if err != nil {
		return fmt.Errorf("failed to parse min-wager: %w", err)
	}

	matchConfig.MaxWager, err = decimal.NewFromString(cmd.String("max-wager"))
	if err != nil {
		return fmt.Errorf("failed to parse max-wager: %w", err)
	}

	var escrowClient escrow.Client

	if gateway := cmd.String("escrow-gateway"); gateway != "" {
		escrowClient = escrow.NewGatewayClient(gateway)
	} else {
		logger.Warn("no escrow gateway configured, using in-memory escrow")

		escrowClient = escrow.NewMemoryClient()
	}

	verifierService := verifier.New(ed25519.PublicKey(publicKey), boltStore, logger, verifier.DefaultConfig())
	ledgerService := ledger.New(feeRate, treasuryRatio, boltStore, logger)
	matchService := match.New(matchConfig, boltStore, escrowClient, verifierService, ledgerService, logger)

	do.ProvideValue(i, matchService)

	do.Provide(i, match.NewHTTPService)

	do.Provide(i, do.InvokeStruct[ShobuService])

	shobuService, err := do.Invoke[ShobuService](i)
	if err != nil {
		return fmt.Errorf("failed to create shobu service: %w", err)
	}

	//nolint:wrapcheck
	return shobuService.EchoService.Start()
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "shobu",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("SHOBU_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./shobu/data",
						Sources: cli.EnvVars("SHOBU_DATA_DIR"),
					},
					&cli.BoolFlag{
						Name:    "debug",
						Value:   false,
						Sources: cli.EnvVars("SHOBU_DEBUG"),
					},
					&cli.StringFlag{
						Name:    "admin-token",
						Value:   "",
						Sources: cli.EnvVars("SHOBU_ADMIN_TOKEN"),
					},
					&cli.StringFlag{
						Name:    "verifier-public-key",
						Value:   "",
						Sources: cli.EnvVars("SHOBU_VERIFIER_PUBLIC_KEY"),
					},
					&cli.StringFlag{
						Name:    "escrow-gateway",
						Value:   "",
						Sources: cli.EnvVars("SHOBU_ESCROW_GATEWAY"),
					},
					&cli.StringFlag{
						Name:    "fee-rate",
						Value:   "0.05",
						Sources: cli.EnvVars("SHOBU_FEE_RATE"),
					},
					&cli.StringFlag{
						Name:    "treasury-ratio",
						Value:   "0.8",
						Sources: cli.EnvVars("SHOBU_TREASURY_RATIO"),
					},
					&cli.StringFlag{
						Name:    "min-wager",
						Value:   "0.01",
						Sources: cli.EnvVars("SHOBU_MIN_WAGER"),
					},
					&cli.StringFlag{
						Name:    "max-wager",
						Value:   "100",
						Sources: cli.EnvVars("SHOBU_MAX_WAGER"),
					},
				},
				Action: runServer,
			},
		},
		DefaultCommand: "server",
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
