package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/target/netops-go/internal/data"
	"github.com/target/netops-go/internal/domain/jobdef"
	"github.com/target/netops-go/internal/domain/model"
	apperrors "github.com/target/netops-go/internal/errors"
)

type definitionLintOptions struct {
	File string
}

type definitionApplyOptions struct {
	File    string
	Timeout time.Duration
}

// runDefinitionLint validates a definition document without touching the
// database, so operators can gate deploys on it in CI.
func runDefinitionLint(_ *commandContext, args []string) error {
	opts, err := parseDefinitionLintFlags(args)
	if err != nil {
		return err
	}

	_, def, err := loadDefinitionDocument(opts.File)
	if err != nil {
		return err
	}

	return writef(os.Stdout, "Definition %q (%s) is valid: %d action(s)\n",
		def.Name, def.ID, len(def.Actions))
}

func runDefinitionApply(cmdCtx *commandContext, args []string) error {
	opts, err := parseDefinitionApplyFlags(args)
	if err != nil {
		return err
	}

	doc, _, err := loadDefinitionDocument(opts.File)
	if err != nil {
		return err
	}

	var req model.UpsertJobDefinitionRequest
	if err := json.Unmarshal(doc, &req); err != nil {
		return fmt.Errorf("decode definition document: %w", err)
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		def, upsertErr := data.NewJobDefinitionsRepo(db).Upsert(ctx, &req)
		if upsertErr != nil {
			if apperrors.IsConflict(upsertErr) {
				return fmt.Errorf("%w (pick a unique name, or apply over the existing definition id)", upsertErr)
			}
			return fmt.Errorf("upsert definition: %w", upsertErr)
		}
		return printAppliedDefinition(def)
	})
}

// loadDefinitionDocument reads a definition file, checks it against the
// schema, and decodes it. The raw bytes come back too so apply can build
// its upsert request from the same read.
func loadDefinitionDocument(path string) ([]byte, *model.JobDefinition, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read definition file: %w", err)
	}

	if err := jobdef.ValidateDocument(doc); err != nil {
		return nil, nil, fmt.Errorf("definition %s: %w", path, err)
	}

	var def model.JobDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, nil, fmt.Errorf("decode definition document: %w", err)
	}
	return doc, &def, nil
}

func printAppliedDefinition(def *model.JobDefinition) error {
	if err := writef(os.Stdout, "Applied definition %q (%s)\n", def.Name, def.ID); err != nil {
		return fmt.Errorf("print applied definition: %w", err)
	}
	if err := writef(os.Stdout, "  Enabled: %t | Actions: %d\n", def.Enabled, len(def.Actions)); err != nil {
		return fmt.Errorf("print applied definition: %w", err)
	}
	if err := writef(os.Stdout, "  Updated: %s\n", def.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("print applied definition: %w", err)
	}
	return nil
}

func parseDefinitionLintFlags(args []string) (definitionLintOptions, error) {
	fs := flag.NewFlagSet("definition-lint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts definitionLintOptions
	fs.StringVar(&opts.File, "file", "", "Path to the job definition JSON document (required)")

	if err := fs.Parse(args); err != nil {
		return definitionLintOptions{}, err
	}

	opts.File = strings.TrimSpace(opts.File)
	if opts.File == "" {
		return definitionLintOptions{}, errors.New("--file is required")
	}

	return opts, nil
}

func parseDefinitionApplyFlags(args []string) (definitionApplyOptions, error) {
	fs := flag.NewFlagSet("definition-apply", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := definitionApplyOptions{
		Timeout: defaultCommandTimeout,
	}
	fs.StringVar(&opts.File, "file", "", "Path to the job definition JSON document (required)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the upsert")

	if err := fs.Parse(args); err != nil {
		return definitionApplyOptions{}, err
	}

	opts.File = strings.TrimSpace(opts.File)
	if opts.File == "" {
		return definitionApplyOptions{}, errors.New("--file is required")
	}
	if opts.Timeout <= 0 {
		return definitionApplyOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}
