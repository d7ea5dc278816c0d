package pipeline

import (
	"fmt"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/common/database"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/observability"
	"sql-assistant/internal/examples"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/pipeline/executor"
	"sql-assistant/internal/pipeline/extractor"
	"sql-assistant/internal/pipeline/generator"
	"sql-assistant/internal/pipeline/synthesizer"
	"sql-assistant/internal/prompt"
	"sql-assistant/internal/schema"
)

// Collaborators are the handles created once at startup. Prompts defaults to
// the embedded templates; SchemaCache, Examples and Observability may be nil.
type Collaborators struct {
	DB            *database.SQLClient
	Model         llm.Client
	Prompts       *prompt.Engine
	SchemaCache   schema.Cache
	Examples      *examples.Retriever
	Observability *observability.Observability
}

// NewFromConfig wires the default stage implementations from cfg.
func NewFromConfig(cfg *config.Config, c Collaborators, log logger.Logger) (*Orchestrator, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("pipeline: database handle is required")
	}
	if c.Model == nil {
		return nil, fmt.Errorf("pipeline: model client is required")
	}

	prompts := c.Prompts
	if prompts == nil {
		var err error
		if prompts, err = prompt.New(); err != nil {
			return nil, fmt.Errorf("pipeline: load prompts: %w", err)
		}
	}

	var exampleSource generator.ExampleSource
	if c.Examples != nil {
		exampleSource = c.Examples
	}

	pc := cfg.Pipeline
	deps := Dependencies{
		Schema:    schema.New(c.DB.DB, c.DB.Driver(), cfg.Schema, c.SchemaCache, log),
		Generator: generator.New(generator.Config{TopK: pc.TopK}, c.Model, prompts, exampleSource, log),
		Extractor: extractor.New(extractor.Config{Mode: pc.ExtractionMode, Dialect: c.DB.Driver()}, c.Model, prompts, log),
		Executor: executor.New(c.DB.DB, c.DB.Driver(), executor.Config{
			ReadOnly:     pc.ReadOnly,
			MaxRows:      pc.MaxRows,
			QueryTimeout: config.Millis(pc.QueryTimeout),
		}, log),
		Synthesizer:   synthesizer.New(c.Model, prompts, log),
		Observability: c.Observability,
	}

	return New(Config{Timeout: config.Millis(pc.Timeout)}, deps, log)
}
