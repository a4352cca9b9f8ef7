package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/click/backend/internal/auth"
	"example.com/click/backend/internal/config"
	"example.com/click/backend/internal/market"
	"example.com/click/backend/internal/models"
	"example.com/click/backend/internal/server"
)

func newPredictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <profile.json>",
		Short: "Run the prediction pipeline for a profile file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			profile, err := readProfile(args[0])
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr())
			services := server.NewServices(cfg, logger, nil)

			result, trace, err := services.AI.Predict(cmd.Context(), profile)
			if err != nil {
				return fmt.Errorf("prediction %s: %w", trace.RequestID, err)
			}

			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newQuotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quotes",
		Short: "Load the market universe once and print cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr())
			services := server.NewServices(cfg, logger, nil)

			result, loadErr := services.Loader.Load(cmd.Context(), true)
			if loadErr != nil && !errors.Is(loadErr, market.ErrNoQuotes) {
				return loadErr
			}

			if err := writeJSON(cmd.OutOrStdout(), struct {
				Result market.LoadResult `json:"result"`
				Cache  market.Stats      `json:"cache"`
			}{Result: result, Cache: services.Cache.Stats()}); err != nil {
				return err
			}

			return loadErr
		},
	}
}

func newAdminTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint an admin JWT for the /api/admin endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if ttl <= 0 {
				ttl = cfg.Admin.TokenTTL
			}

			manager := auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.JWTIssuer, ttl)
			token, err := manager.NewAdminToken(subject)
			if err != nil {
				if errors.Is(err, auth.ErrMissingSecret) {
					slog.Error("ADMIN_JWT_SECRET is not set")
				}
				return err
			}

			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"token":      token.Token,
				"subject":    token.Subject,
				"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject (operator name)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to ADMIN_TOKEN_TTL")

	return cmd
}

func readProfile(path string) (models.UserProfile, error) {
	var profile models.UserProfile

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("read profile: %w", err)
	}

	if err := json.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("decode profile: %w", err)
	}

	return profile, nil
}

func writeJSON(w io.Writer, value interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
