// Command seed imports workflow definitions from a YAML document into
// Postgres. Existing definitions (matched by id) are left untouched, so the
// command is safe to re-run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tasklane/be-workflows/internal/config"
	"github.com/tasklane/be-workflows/internal/engine"
	"github.com/tasklane/be-workflows/internal/platform/database"
	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

type seedFile struct {
	Definitions []seedDefinition `yaml:"definitions"`
}

type seedDefinition struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Active      *bool      `yaml:"active"`
	Steps       []seedStep `yaml:"steps"`
}

type seedStep struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	EstimatedHours *float64 `yaml:"estimated_hours"`
	Assignee       string   `yaml:"assignee"`
	DependsOn      []string `yaml:"depends_on"`
}

func main() {
	path := flag.String("file", "seed/definitions.yaml", "definitions YAML file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatal().Err(err).Str("file", *path).Msg("Failed to read definitions file")
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		log.Fatal().Err(err).Str("file", *path).Msg("Failed to parse definitions file")
	}

	repo := repository.NewDefinitionRepository(db)

	for _, sd := range file.Definitions {
		def, err := toDefinition(sd)
		if err != nil {
			log.Fatal().Err(err).Str("definition", sd.Name).Msg("Invalid definition")
		}

		// Reject cyclic or malformed graphs before touching the database.
		if _, err := engine.BuildGraph(def); err != nil {
			log.Fatal().Err(err).Str("definition", def.ID).Msg("Invalid dependency graph")
		}

		if _, err := repo.GetByID(ctx, def.ID); err == nil {
			log.Info().Str("definition", def.ID).Msg("Definition already exists, skipping")
			continue
		} else if !errors.HasCode(err, errors.ErrCodeNotFound) {
			log.Fatal().Err(err).Str("definition", def.ID).Msg("Failed to check definition")
		}

		if err := repo.Create(ctx, def); err != nil {
			log.Fatal().Err(err).Str("definition", def.ID).Msg("Failed to create definition")
		}
		log.Info().
			Str("definition", def.ID).
			Int("steps", len(def.Steps)).
			Msg("Definition created")
	}
}

func toDefinition(sd seedDefinition) (*repository.WorkflowDefinition, error) {
	if sd.Name == "" {
		return nil, fmt.Errorf("definition name is required")
	}

	def := &repository.WorkflowDefinition{
		ID:       sd.ID,
		Name:     sd.Name,
		IsActive: sd.Active == nil || *sd.Active,
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if sd.Description != "" {
		def.Description = &sd.Description
	}

	for i, ss := range sd.Steps {
		if ss.Name == "" {
			return nil, fmt.Errorf("step %d of %s has no name", i, sd.Name)
		}
		step := &repository.StepTemplate{
			ID:             ss.ID,
			Name:           ss.Name,
			EstimatedHours: ss.EstimatedHours,
			Position:       i,
			DependsOn:      ss.DependsOn,
		}
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		if ss.Description != "" {
			step.Description = &ss.Description
		}
		if ss.Assignee != "" {
			step.AssigneeRule = &ss.Assignee
		}
		def.Steps = append(def.Steps, step)
	}

	return def, nil
}
