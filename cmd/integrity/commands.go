package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/config"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/integrity"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "dotenv file to load before reading the environment",
		Value: ".env",
	}
}

func fileFlag(name, usage string) cli.Flag {
	return &cli.StringFlag{
		Name:  name,
		Usage: usage + ` ("-" reads stdin)`,
		Value: "-",
	}
}

func newApp(out io.Writer, in io.Reader) *cli.Command {
	return &cli.Command{
		Name:   "integrity",
		Usage:  "inspect and repair persisted LLM responses",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "report whether a response is well-formed JSON",
				Flags: []cli.Flag{envFlag(), fileFlag("file", "response to check")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					checker, _, closeFn, err := setup(ctx, cmd.String("env"), false)
					if err != nil {
						return err
					}
					defer closeFn()

					text, err := readInput(cmd.String("file"), in)
					if err != nil {
						return err
					}
					return writeResult(out, map[string]any{"valid": checker.Validate(ctx, text)})
				},
			},
			{
				Name:  "detect",
				Usage: "compare a stored response with its original copy",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{Name: "stored", Usage: "stored response file", Required: true},
					&cli.StringFlag{Name: "original", Usage: "original response file", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					checker, _, closeFn, err := setup(ctx, cmd.String("env"), false)
					if err != nil {
						return err
					}
					defer closeFn()

					stored, err := readInput(cmd.String("stored"), in)
					if err != nil {
						return err
					}
					original, err := readInput(cmd.String("original"), in)
					if err != nil {
						return err
					}
					return writeResult(out, checker.DetectCorruption(ctx, stored, original))
				},
			},
			{
				Name:  "repair",
				Usage: "print the canonical form of a response after mechanical repairs",
				Flags: []cli.Flag{envFlag(), fileFlag("file", "response to repair")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					checker, _, closeFn, err := setup(ctx, cmd.String("env"), false)
					if err != nil {
						return err
					}
					defer closeFn()

					text, err := readInput(cmd.String("file"), in)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, checker.Repair(ctx, text))
					return err
				},
			},
			{
				Name:  "reprocess",
				Usage: "scan the response log and repair corrupted entries",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{Name: "limit", Usage: "most recent entries to scan (0 scans all)", Value: 100},
					&cli.BoolFlag{Name: "apply", Usage: "append repaired entries back to the response log"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					checker, responseLog, closeFn, err := setup(ctx, cmd.String("env"), true)
					if err != nil {
						return err
					}
					defer closeFn()

					// Applied entries are stored as their own original so later
					// scans treat them as clean.
					apply := cmd.Bool("apply")
					processed, err := checker.ReprocessHistorical(ctx, cmd.Int("limit"), func(ctx context.Context, entry domain.ResponseLogEntry, repaired string) error {
						if apply {
							return responseLog.Append(ctx, domain.ResponseLogEntry{
								ID:        uuid.NewString(),
								Stored:    repaired,
								Original:  repaired,
								Model:     entry.Model,
								Contract:  entry.Contract,
								CreatedAt: time.Now().UTC(),
							})
						}
						return writeResult(out, map[string]any{"id": entry.ID, "repaired": repaired})
					})
					if writeErr := writeResult(out, map[string]any{"processed": processed, "applied": apply}); writeErr != nil {
						return writeErr
					}
					return err
				},
			},
		},
	}
}

// setup builds the checker. The response log lives in Redis; without
// REDIS_ADDR an empty in-memory log is used, which only makes sense for the
// single-response commands.
func setup(ctx context.Context, envFile string, needLog bool) (*integrity.Checker, repository.ResponseLog, func(), error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.Load()
	sink := audit.NewSlogLogger(os.Stderr, audit.Config{Format: cfg.AuditLogFormat})

	var responseLog repository.ResponseLog = repository.NewMemoryResponseLog(cfg.ResponseLogCapacity)
	closeFn := func() {}
	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		responseLog = repository.NewRedisResponseLog(client, cfg.ResponseLogKey, cfg.ResponseLogCapacity)
		closeFn = func() { _ = client.Close() }
	} else if needLog {
		return nil, nil, nil, errors.New("REDIS_ADDR is required to read the response log")
	}

	return integrity.NewChecker(integrity.CheckerConfig{Audit: sink, Log: responseLog}), responseLog, closeFn, nil
}

func readInput(path string, in io.Reader) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func writeResult(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(value)
}
