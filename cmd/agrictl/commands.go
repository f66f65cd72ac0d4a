package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"agri-price/internal/config"
	"agri-price/internal/database"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/realtime"
	"agri-price/internal/realtime/bus"
	"agri-price/internal/services/agmarknet"
	"agri-price/internal/services/arbitrage"
	"agri-price/internal/services/export"
	"agri-price/internal/services/ingest"
	"agri-price/internal/services/prediction"
	"agri-price/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type env struct {
	cfg   *config.Config
	log   *logger.Logger
	store *store.Store
	close func()
}

// openEnv connects to the database and the change feed transport so that
// writes made here reach running servers.
func openEnv() (*env, error) {
	cfg := config.Load()
	lg, err := logger.New(cfg.Environment)
	if err != nil {
		return nil, err
	}
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := database.SeedCommodities(db); err != nil {
		return nil, err
	}
	b, err := bus.New(bus.Options{
		Transport:   cfg.RealtimeTransport,
		Channel:     cfg.RealtimeChannel,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
	}, db, lg)
	if err != nil {
		printWarning("realtime transport unavailable, changes will not be broadcast: %v", err)
		b = nil
	}
	var pub realtime.Publisher
	if b != nil {
		pub = b
	}
	return &env{
		cfg:   cfg,
		log:   lg,
		store: store.New(db, pub, lg),
		close: func() {
			if b != nil {
				b.Close()
			}
			lg.Sync()
		},
	}, nil
}

// resolveCommodity accepts an id or a case-insensitive name.
func resolveCommodity(ctx context.Context, st *store.Store, arg string) (*models.Commodity, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, errors.New("--commodity is required")
	}
	if id, err := uuid.Parse(arg); err == nil {
		c, err := st.GetCommodity(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("commodity %s not found", arg)
		}
		return c, nil
	}
	all, err := st.ListCommodities(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if strings.EqualFold(all[i].Name, arg) {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("commodity %q not found", arg)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch mandi prices, regenerate forecasts and refresh arbitrage",
	Long: `Run one ingestion pass against DATABASE_URL.

Live prices come from data.gov.in when DATA_GOV_IN_API_KEY is set, otherwise
simulated prices are generated for the known mandis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		arb := arbitrage.NewService(e.store, nil, e.cfg.TransportCostKg, e.log)
		svc := ingest.NewService(e.store, agmarknet.NewClient(e.cfg.DataGovAPIKey, ""), e.log,
			ingest.OnComplete(arb.AfterIngest))

		printStep("Ingesting prices")
		res, err := svc.Run(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Inserted %d records from %s", res.RecordsInserted, res.Source)
		printStatus("Predictions", "%d", res.PredictionsGenerated)
		printStatus("Commodities", "%d", res.CommoditiesUpdated)
		return nil
	},
}

// --- model ---

var modelURL string

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Talk to the prediction service",
}

func modelClient() *prediction.Client {
	if modelURL == "" {
		modelURL = config.Load().PredictionAPIURL
	}
	return prediction.NewClient(modelURL)
}

var modelHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show prediction service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := modelClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var modelTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		epochs, _ := cmd.Flags().GetInt("epochs")
		file, _ := cmd.Flags().GetString("file")
		client := modelClient()
		printStep("Training on %s (this can take a while)", client.BaseURL())
		res, err := client.TrainModel(cmd.Context(), prediction.TrainRequest{Filename: file, Epochs: epochs})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var modelPredictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the next price of a commodity from its stored history",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("commodity")
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		ctx := cmd.Context()
		c, err := resolveCommodity(ctx, e.store, name)
		if err != nil {
			return err
		}
		history, err := e.store.PriceHistory(ctx, c.ID, 300)
		if err != nil {
			return err
		}
		seq, err := prediction.BuildSequence(history)
		if err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
		res, err := modelClient().PredictPrice(ctx, prediction.PredictRequest{Sequence: seq, Commodity: c.Name})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var modelMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show the model's evaluation metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := modelClient().ModelMetrics(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	modelCmd.PersistentFlags().StringVar(&modelURL, "url", "", "prediction service URL (default PREDICTION_API_URL)")
	modelTrainCmd.Flags().Int("epochs", 0, "training epochs")
	modelTrainCmd.Flags().String("file", "", "training data file on the service")
	modelPredictCmd.Flags().String("commodity", "", "commodity name or id")

	modelCmd.AddCommand(modelHealthCmd, modelTrainCmd, modelPredictCmd, modelMetricsCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a commodity's price history to an xlsx file",
	Long: `Write a commodity's price history and forecast to an xlsx file.

Examples:
  agrictl export --commodity Tomato
  agrictl export --commodity Onion --out onion.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("commodity")
		out, _ := cmd.Flags().GetString("out")
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		ctx := cmd.Context()
		c, err := resolveCommodity(ctx, e.store, name)
		if err != nil {
			return err
		}
		if out == "" {
			out = export.Filename(c.Name)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		defer f.Close()
		if _, err := export.New(e.store).Write(ctx, c.ID, f); err != nil {
			return err
		}
		printSuccess("Wrote %s", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("commodity", "", "commodity name or id")
	exportCmd.Flags().String("out", "", "output file (default <commodity>_prices.xlsx)")
}

// --- arbitrage ---

var arbitrageCmd = &cobra.Command{
	Use:   "arbitrage",
	Short: "Recompute and list mandi arbitrage opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()

		rows, err := arbitrage.NewService(e.store, nil, e.cfg.TransportCostKg, e.log).Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			printWarning("No opportunities")
			return nil
		}
		names := map[uuid.UUID]string{}
		if all, err := e.store.ListCommodities(cmd.Context()); err == nil {
			for _, c := range all {
				names[c.ID] = c.Name
			}
		}
		w := cmd.OutOrStdout()
		for _, r := range rows {
			fmt.Fprintf(w, "%-12s %s -> %s  diff ₹%.2f  profit ₹%.2f/kg  (%s)\n",
				names[r.CommodityID], r.SourceMandi, r.DestinationMandi, r.PriceDifference,
				deref(r.ProfitPotential), r.CalculatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
