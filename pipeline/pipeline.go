// Package pipeline assembles executable RAG pipelines from declarative
// configuration. Each configured stage becomes one DAG node whose run
// function resolves the referenced plugin through the registry; data
// flows between nodes as typed values (documents, indexed chunks,
// retrieved contexts, answers) and the node logic dispatches on what it
// receives, so the same stage categories serve both ingest and query
// pipelines.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/ragline/batch"
	"github.com/c360studio/ragline/config"
	"github.com/c360studio/ragline/dag"
	"github.com/c360studio/ragline/plugin"
	"github.com/c360studio/ragline/plugin/stage"
	"github.com/c360studio/ragline/slo"
	"github.com/c360studio/ragline/stages/chunker"
)

// StageSLO is the SLO name stage measurements are recorded under when
// the runner has a monitor.
const StageSLO = "pipeline-stage-success"

// defaultRetrieveLimit bounds retrieval when neither the query nor the
// stage options set one.
const defaultRetrieveLimit = 5

// loadConcurrency caps parallel source loads within one loader node.
const loadConcurrency = 4

// Query carries a question through a query pipeline. The seed of a
// query pipeline may be a Query or a bare string.
type Query struct {
	// Text is the user's question.
	Text string

	// Limit caps retrieved contexts. Zero means the stage default.
	Limit int

	// Expected is the reference answer for evaluator stages, when known.
	Expected string
}

// EmbeddedQuery is a query plus its embedding vector.
type EmbeddedQuery struct {
	Query  Query
	Vector stage.Vector
}

// Retrieved is a query plus its supporting contexts, in rank order.
type Retrieved struct {
	Query    Query
	Contexts []stage.Context
}

// Answer is a generated response with the contexts it was grounded on.
type Answer struct {
	Query    Query
	Text     string
	Contexts []stage.Context
}

// Stored summarizes an ingest pipeline's terminal store stage.
type Stored struct {
	Items int
}

// Runner executes one configured pipeline. Build it once and reuse it;
// Run is safe for concurrent use.
type Runner struct {
	cfg      config.PipelineConfig
	registry *plugin.Registry
	graph    *dag.DAG

	engine   config.EngineConfig
	batchCfg config.BatchConfig
	monitor  *slo.Monitor
	observer batch.Observer
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithEngine sets DAG execution settings.
func WithEngine(cfg config.EngineConfig) Option {
	return func(r *Runner) { r.engine = cfg }
}

// WithBatch sets batch processor settings for embedding stages.
func WithBatch(cfg config.BatchConfig) Option {
	return func(r *Runner) { r.batchCfg = cfg }
}

// WithMonitor records a per-stage success measurement on the monitor
// for every node run, under StageSLO.
func WithMonitor(m *slo.Monitor) Option {
	return func(r *Runner) { r.monitor = m }
}

// WithBatchObserver forwards batch processing events, typically to an
// event stream publisher.
func WithBatchObserver(obs batch.Observer) Option {
	return func(r *Runner) { r.observer = obs }
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a Runner from a pipeline config, resolving every stage's
// plugin up front so a missing or miswired plugin fails at build time,
// not mid-run.
func New(registry *plugin.Registry, cfg config.PipelineConfig, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.monitor != nil {
		if _, err := r.monitor.Status(StageSLO); err != nil {
			defErr := r.monitor.DefineSLO(slo.Definition{
				Name:           StageSLO,
				Target:         0.99,
				Window:         time.Hour,
				AlertThreshold: 0.95,
				Description:    "pipeline stage success rate",
			})
			if defErr != nil {
				return nil, fmt.Errorf("pipeline %q: define stage SLO: %w", cfg.Name, defErr)
			}
		}
	}

	graph, err := r.build()
	if err != nil {
		return nil, err
	}
	r.graph = graph
	r.graph.SetLogger(r.logger)
	return r, nil
}

// Name returns the pipeline name.
func (r *Runner) Name() string { return r.cfg.Name }

// Graph exposes the underlying DAG, for topology inspection.
func (r *Runner) Graph() *dag.DAG { return r.graph }

// Run executes the pipeline with the given seed. Source stages receive
// the seed: a source path or URL (string or []string) for ingest
// pipelines, a Query or question string for query pipelines. The result
// is the sink stage's value, or a map of node id to value when engine
// retries or checkpoints are enabled.
func (r *Runner) Run(ctx context.Context, seed any) (any, error) {
	opts := dag.Options{
		Seed:           seed,
		MaxConcurrency: r.engine.MaxConcurrency,
		Timeout:        r.engine.Timeout,
	}
	if r.engine.MaxRetries > 0 {
		opts.RetryFailedNodes = true
		opts.MaxRetries = r.engine.MaxRetries
	}
	if r.engine.EnableCheckpoints {
		opts.EnableCheckpoints = true
		opts.CheckpointID = r.cfg.Name
	}
	return r.graph.Execute(ctx, opts)
}

// build turns the stage list into a DAG, one node per stage.
func (r *Runner) build() (*dag.DAG, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	graph := dag.New()
	for _, sc := range r.cfg.Stages {
		run, err := r.nodeFunc(sc)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: stage %q: %w", r.cfg.Name, sc.ID, err)
		}
		if _, err := graph.AddNode(sc.ID, r.instrument(sc.ID, run)); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", r.cfg.Name, err)
		}
	}
	for _, sc := range r.cfg.Stages {
		for _, dep := range sc.DependsOn {
			if err := graph.Connect(dep, sc.ID); err != nil {
				return nil, fmt.Errorf("pipeline %q: %w", r.cfg.Name, err)
			}
		}
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", r.cfg.Name, err)
	}
	return graph, nil
}

// nodeFunc resolves the stage's plugin and returns its run function.
func (r *Runner) nodeFunc(sc config.StageConfig) (dag.RunFunc, error) {
	category := stage.ParseCategory(sc.Category)
	switch category {
	case stage.CategoryLoader:
		loader, err := r.registry.Loader(sc.Plugin)
		if err != nil {
			return nil, err
		}
		return r.loadNode(loader, sc), nil
	case stage.CategoryEmbedder:
		embedder, err := r.registry.Embedder(sc.Plugin)
		if err != nil {
			return nil, err
		}
		return r.embedNode(embedder, sc)
	case stage.CategoryRetriever:
		retriever, err := r.registry.Retriever(sc.Plugin)
		if err != nil {
			return nil, err
		}
		return r.retrieveNode(retriever, sc), nil
	case stage.CategoryReranker:
		reranker, err := r.registry.Reranker(sc.Plugin)
		if err != nil {
			return nil, err
		}
		return r.rerankNode(reranker), nil
	case stage.CategoryLLM:
		llm, err := r.registry.LLM(sc.Plugin)
		if err != nil {
			return nil, err
		}
		return r.generateNode(llm), nil
	case stage.CategoryEvaluator:
		evaluator, err := r.registry.Evaluator(sc.Plugin)
		if err != nil {
			return nil, err
		}
		return r.evaluateNode(evaluator, sc), nil
	default:
		return nil, fmt.Errorf("unknown stage category %q", sc.Category)
	}
}

// instrument wraps a run function with an SLO measurement per execution.
func (r *Runner) instrument(id string, run dag.RunFunc) dag.RunFunc {
	if r.monitor == nil {
		return run
	}
	return func(ctx context.Context, input any) (any, error) {
		start := time.Now()
		out, err := run(ctx, input)
		_, recErr := r.monitor.RecordMeasurement(StageSLO, err == nil, map[string]any{
			"pipeline":    r.cfg.Name,
			"stage":       id,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if recErr != nil {
			r.logger.Warn("stage SLO measurement failed", "stage", id, "error", recErr)
		}
		return out, err
	}
}

// loadNode loads one or more sources. Sources come from the stage's
// "source" option when set, otherwise from the seed. Multiple sources
// load in parallel.
func (r *Runner) loadNode(loader stage.Loader, sc config.StageConfig) dag.RunFunc {
	return func(ctx context.Context, input any) (any, error) {
		sources, err := sourceList(sc.Options, input)
		if err != nil {
			return nil, err
		}

		results := make([][]stage.Document, len(sources))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(loadConcurrency)
		for i, src := range sources {
			g.Go(func() error {
				docs, err := loader.Load(gctx, src, sc.Options)
				if err != nil {
					return fmt.Errorf("load %q: %w", src, err)
				}
				results[i] = docs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var docs []stage.Document
		for _, batchDocs := range results {
			docs = append(docs, batchDocs...)
		}
		return docs, nil
	}
}

// embedNode embeds either a query (query pipelines) or chunked
// documents (ingest pipelines, batched through the batch processor).
func (r *Runner) embedNode(embedder stage.Embedder, sc config.StageConfig) (dag.RunFunc, error) {
	chk, err := chunkerFromOptions(sc.Options)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, input any) (any, error) {
		values := inputValues(input)

		if q, ok := queryFrom(values); ok {
			vec, err := embedQuery(ctx, embedder, q.Text)
			if err != nil {
				return nil, err
			}
			return EmbeddedQuery{Query: q, Vector: vec}, nil
		}

		docs := documentsFrom(values)
		if len(docs) == 0 {
			return nil, fmt.Errorf("embed stage received no documents and no query")
		}

		sourceByID := make(map[string]string, len(docs))
		for _, d := range docs {
			sourceByID[d.ID] = d.Source
		}

		chunks := chk.ChunkAll(docs)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("no chunks produced from %d documents", len(docs))
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		proc := batch.New[string, stage.Vector](r.batchOptions())
		if r.observer != nil {
			proc.Subscribe(r.observer)
		}
		vectors, err := proc.ProcessBatches(ctx, texts, func(ctx context.Context, items []string) ([]stage.Vector, error) {
			return embedder.Embed(ctx, items)
		})
		if err != nil {
			return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
		}

		indexed := make([]stage.Indexed, len(chunks))
		for i, c := range chunks {
			indexed[i] = stage.Indexed{
				ID:     fmt.Sprintf("%s-%d", c.ParentID, c.Index),
				Text:   c.Content,
				Source: sourceByID[c.ParentID],
				Vector: vectors[i],
			}
		}
		return indexed, nil
	}, nil
}

// retrieveNode stores indexed items (ingest) or retrieves contexts for
// an embedded query (query), depending on what flows in.
func (r *Runner) retrieveNode(retriever stage.Retriever, sc config.StageConfig) dag.RunFunc {
	return func(ctx context.Context, input any) (any, error) {
		values := inputValues(input)

		if items := indexedFrom(values); len(items) > 0 {
			if err := retriever.Store(ctx, items); err != nil {
				return nil, fmt.Errorf("store %d items: %w", len(items), err)
			}
			return Stored{Items: len(items)}, nil
		}

		if eq, ok := embeddedQueryFrom(values); ok {
			limit := eq.Query.Limit
			if limit <= 0 {
				limit = intOption(sc.Options, "limit", defaultRetrieveLimit)
			}
			contexts, err := retriever.Retrieve(ctx, eq.Vector, limit)
			if err != nil {
				return nil, err
			}
			return Retrieved{Query: eq.Query, Contexts: contexts}, nil
		}

		return nil, fmt.Errorf("retrieve stage received neither indexed items nor an embedded query")
	}
}

func (r *Runner) rerankNode(reranker stage.Reranker) dag.RunFunc {
	return func(ctx context.Context, input any) (any, error) {
		ret, ok := retrievedFrom(inputValues(input))
		if !ok {
			return nil, fmt.Errorf("rerank stage received no retrieved contexts")
		}
		contexts, err := reranker.Rerank(ctx, ret.Query.Text, ret.Contexts)
		if err != nil {
			return nil, err
		}
		return Retrieved{Query: ret.Query, Contexts: contexts}, nil
	}
}

func (r *Runner) generateNode(llm stage.LLM) dag.RunFunc {
	return func(ctx context.Context, input any) (any, error) {
		ret, ok := retrievedFrom(inputValues(input))
		if !ok {
			return nil, fmt.Errorf("llm stage received no retrieved contexts")
		}
		text, err := llm.Generate(ctx, ret.Query.Text, ret.Contexts)
		if err != nil {
			return nil, err
		}
		return Answer{Query: ret.Query, Text: text, Contexts: ret.Contexts}, nil
	}
}

// evaluateNode scores the upstream answer. The reference answer comes
// from the query's Expected field, overridable by the stage's
// "expected" option.
func (r *Runner) evaluateNode(evaluator stage.Evaluator, sc config.StageConfig) dag.RunFunc {
	return func(ctx context.Context, input any) (any, error) {
		ans, ok := answerFrom(inputValues(input))
		if !ok {
			return nil, fmt.Errorf("evaluate stage received no answer")
		}
		expected := ans.Query.Expected
		if v, ok := sc.Options["expected"].(string); ok && v != "" {
			expected = v
		}
		if expected == "" {
			return nil, fmt.Errorf("evaluate stage has no expected answer")
		}
		return evaluator.Score(ctx, expected, ans.Text)
	}
}

// batchOptions maps the batch config onto processor options.
func (r *Runner) batchOptions() batch.Options {
	return batch.Options{
		Model:             r.batchCfg.Model,
		MaxTokensPerBatch: r.batchCfg.MaxTokensPerBatch,
		MaxItemsPerBatch:  r.batchCfg.MaxItemsPerBatch,
		TargetUtilization: r.batchCfg.TargetUtilization,
		AdaptiveSizing:    r.batchCfg.AdaptiveSizing,
		MaxMemoryMB:       r.batchCfg.MaxMemoryMB,
		MaxRetries:        r.batchCfg.MaxRetries,
		RetryDelay:        r.batchCfg.RetryDelay,
		Logger:            r.logger,
	}
}

// embedQuery uses the embedder's query path when it has one.
func embedQuery(ctx context.Context, embedder stage.Embedder, text string) (stage.Vector, error) {
	if qe, ok := embedder.(stage.QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, text)
	}
	vectors, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	return vectors[0], nil
}

// chunkerFromOptions builds the embed stage's chunker, honoring
// target_tokens / max_tokens / min_tokens overrides.
func chunkerFromOptions(options map[string]any) (*chunker.Chunker, error) {
	cfg := chunker.DefaultConfig()
	cfg.TargetTokens = intOption(options, "target_tokens", cfg.TargetTokens)
	cfg.MaxTokens = intOption(options, "max_tokens", cfg.MaxTokens)
	cfg.MinTokens = intOption(options, "min_tokens", cfg.MinTokens)
	return chunker.New(cfg)
}

// inputValues flattens a node input (seed or dependency map) into a
// deterministic value list.
func inputValues(input any) []any {
	m, ok := input.(map[string]any)
	if !ok {
		return []any{input}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return values
}

// sourceList resolves loader sources from the "source" option or the
// seed value.
func sourceList(options map[string]any, input any) ([]string, error) {
	if v, ok := options["source"]; ok {
		return toStrings(v)
	}
	for _, v := range inputValues(input) {
		if sources, err := toStrings(v); err == nil {
			return sources, nil
		}
	}
	return nil, fmt.Errorf("loader stage has no source: set the \"source\" option or seed the run with a path or URL")
}

func toStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil, fmt.Errorf("empty source")
		}
		return []string{s}, nil
	case []string:
		if len(s) == 0 {
			return nil, fmt.Errorf("empty source list")
		}
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("source list contains non-string %T", item)
			}
			out = append(out, str)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty source list")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported source type %T", v)
	}
}

func intOption(options map[string]any, key string, fallback int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func queryFrom(values []any) (Query, bool) {
	for _, v := range values {
		switch q := v.(type) {
		case Query:
			return q, true
		case string:
			if q != "" {
				return Query{Text: q}, true
			}
		}
	}
	return Query{}, false
}

func documentsFrom(values []any) []stage.Document {
	var docs []stage.Document
	for _, v := range values {
		if d, ok := v.([]stage.Document); ok {
			docs = append(docs, d...)
		}
	}
	return docs
}

func indexedFrom(values []any) []stage.Indexed {
	var items []stage.Indexed
	for _, v := range values {
		if in, ok := v.([]stage.Indexed); ok {
			items = append(items, in...)
		}
	}
	return items
}

func embeddedQueryFrom(values []any) (EmbeddedQuery, bool) {
	for _, v := range values {
		if eq, ok := v.(EmbeddedQuery); ok {
			return eq, true
		}
	}
	return EmbeddedQuery{}, false
}

func retrievedFrom(values []any) (Retrieved, bool) {
	for _, v := range values {
		if ret, ok := v.(Retrieved); ok {
			return ret, true
		}
	}
	return Retrieved{}, false
}

func answerFrom(values []any) (Answer, bool) {
	for _, v := range values {
		if a, ok := v.(Answer); ok {
			return a, true
		}
	}
	return Answer{}, false
}
