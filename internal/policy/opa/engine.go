// Package opa evaluates blocking decisions with Rego policies.
package opa

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Query is the Rego rule producing a blocking decision.
const Query = "data.screentime.blocking.decision"

//go:embed policies/*.rego
var embeddedPolicies embed.FS

// Config configures where policies are loaded from.
type Config struct {
	// PolicyDir holds *.rego files. Empty uses the built-in policy.
	PolicyDir string
}

// Decision is the result of a blocking query.
type Decision struct {
	Blocked          bool   `json:"blocked"`
	Reason           string `json:"reason"`
	RuleID           string `json:"rule_id"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// Engine wraps OPA rego engine for policy evaluation
type Engine struct {
	config Config
	logger zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine creates a new OPA engine
func NewEngine(config Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		config: config,
		logger: logger.With().Str("component", "opa").Logger(),
	}

	query, err := e.prepare()
	if err != nil {
		return nil, err
	}
	e.query = query

	source := "embedded"
	if config.PolicyDir != "" {
		source = config.PolicyDir
	}
	e.logger.Info().Str("policy_source", source).Msg("OPA engine initialized")

	return e, nil
}

// loadModules reads every .rego file from the policy directory, or the
// built-in policy when no directory is configured.
func (e *Engine) loadModules() (map[string]string, error) {
	var fsys fs.FS = embeddedPolicies
	pattern := "policies/*.rego"
	if e.config.PolicyDir != "" {
		fsys = os.DirFS(e.config.PolicyDir)
		pattern = "*.rego"
	}

	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.config.PolicyDir)
	}
	sort.Strings(files)

	modules := make(map[string]string, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		modules[filepath.Base(file)] = string(content)
		e.logger.Debug().Str("file", file).Msg("Loaded policy module")
	}

	return modules, nil
}

// prepare compiles the policy modules and prepares the decision query.
func (e *Engine) prepare() (rego.PreparedEvalQuery, error) {
	modules, err := e.loadModules()
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}

	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to compile policies: %w", err)
	}

	query, err := rego.New(
		rego.Query(Query),
		rego.Compiler(compiler),
	).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare decision query: %w", err)
	}

	return query, nil
}

// Evaluate runs the decision query against input.
func (e *Engine) Evaluate(ctx context.Context, input map[string]any) (*Decision, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	startTime := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("decision query evaluation failed: %w", err)
	}
	e.logger.Debug().Dur("duration", time.Since(startTime)).Msg("Decision query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("no results from decision query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}

	return &decision, nil
}

// Reload re-reads and recompiles the policies. On failure the previously
// loaded policy stays in effect.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")

	query, err := e.prepare()
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	e.logger.Info().Msg("OPA policies reloaded successfully")
	return nil
}
