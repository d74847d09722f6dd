package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"flowtale/internal/models"
	"flowtale/pkg/ai"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Имена flow, используются в логах и метках метрик.
const (
	FlowSuggestStoryStart      = "suggestStoryStart"
	FlowGenerateNewStoryline   = "generateNewStoryline"
	FlowGenerateBranchingPaths = "generateBranchingPaths"
	FlowSummarizeStory         = "summarizeStory"
)

var contractViolationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowtale_flow_contract_violations_total",
		Help: "Number of AI responses that did not match the flow output schema.",
	},
	[]string{"flow"},
)

// Flows - типизированные обертки над AIClient: промт из шаблона, вызов, разбор и проверка ответа.
type Flows struct {
	client    ai.AIClient
	params    ai.GenerationParams
	templates *template.Template
	validate  *validator.Validate
	logger    *zap.Logger
}

// New создает Flows. params применяются ко всем вызовам, JSONMode включается всегда.
func New(client ai.AIClient, params ai.GenerationParams, logger *zap.Logger) (*Flows, error) {
	if client == nil {
		return nil, errors.New("flows: AI client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	params.JSONMode = true
	return &Flows{
		client:    client,
		params:    params,
		templates: tmpl,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.Named("Flows"),
	}, nil
}

// SuggestStoryStart генерирует начало истории по теме.
func (f *Flows) SuggestStoryStart(ctx context.Context, in SuggestStoryStartInput) (*SuggestStoryStartOutput, error) {
	var out SuggestStoryStartOutput
	if err := f.run(ctx, FlowSuggestStoryStart, tmplSuggestStoryStart, &in, &out); err != nil {
		return nil, err
	}
	out.Characters = f.dropUnnamedCharacters(out.Characters)
	return &out, nil
}

func (f *Flows) dropUnnamedCharacters(characters []models.StoryCharacter) []models.StoryCharacter {
	if len(characters) == 0 {
		return nil
	}
	kept := make([]models.StoryCharacter, 0, len(characters))
	for _, ch := range characters {
		ch.Name = strings.TrimSpace(ch.Name)
		if ch.Name == "" {
			continue
		}
		kept = append(kept, ch)
	}
	if dropped := len(characters) - len(kept); dropped > 0 {
		f.logger.Warn("Dropped characters without a name", zap.Int("dropped", dropped), zap.Int("kept", len(kept)))
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// GenerateNewStoryline продолжает историю с учетом выбора пользователя.
func (f *Flows) GenerateNewStoryline(ctx context.Context, in GenerateNewStorylineInput) (*GenerateNewStorylineOutput, error) {
	var out GenerateNewStorylineOutput
	if err := f.run(ctx, FlowGenerateNewStoryline, tmplGenerateNewStoryline, &in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateBranchingPaths предлагает варианты выбора для фрагмента истории.
func (f *Flows) GenerateBranchingPaths(ctx context.Context, in GenerateBranchingPathsInput) (*GenerateBranchingPathsOutput, error) {
	var out GenerateBranchingPathsOutput
	if err := f.run(ctx, FlowGenerateBranchingPaths, tmplGenerateBranchingPaths, &in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SummarizeStory придумывает финальное название и заключение.
func (f *Flows) SummarizeStory(ctx context.Context, in SummarizeStoryInput) (*SummarizeStoryOutput, error) {
	var out SummarizeStoryOutput
	if err := f.run(ctx, FlowSummarizeStory, tmplSummarizeStory, &in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// run выполняет один flow. При ошибке вызывающий метод не возвращает out.
func (f *Flows) run(ctx context.Context, flow, tmplName string, in interface{}, out interface{}) error {
	log := f.logger.With(zap.String("flow", flow))

	if err := f.validate.Struct(in); err != nil {
		log.Warn("Invalid flow input", zap.Error(err))
		return fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, flow, err)
	}

	userPrompt, err := renderPrompt(f.templates, tmplName, in)
	if err != nil {
		log.Error("Failed to render prompt", zap.Error(err))
		return err
	}

	raw, usage, err := f.client.GenerateText(ctx, flow, systemPrompt(flow), userPrompt, f.params)
	if err != nil {
		log.Warn("Generation failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %v", models.ErrGenerationUnavailable, flow, err)
	}

	jsonText := extractJSONObject(raw)
	if jsonText == "" {
		return f.violation(log, flow, raw, errors.New("no JSON object in response"))
	}

	if err := json.Unmarshal([]byte(jsonText), out); err != nil {
		return f.violation(log, flow, raw, err)
	}
	if err := f.validate.Struct(out); err != nil {
		return f.violation(log, flow, raw, err)
	}

	log.Debug("Flow completed",
		zap.Int("promptTokens", usage.PromptTokens),
		zap.Int("completionTokens", usage.CompletionTokens),
	)
	return nil
}

func (f *Flows) violation(log *zap.Logger, flow, raw string, cause error) error {
	contractViolationsTotal.WithLabelValues(flow).Inc()
	log.Warn("AI response violates flow output schema",
		zap.Error(cause),
		zap.Int("responseLength", len(raw)),
	)
	return fmt.Errorf("%w: %s: %v", models.ErrGenerationContractViolation, flow, cause)
}
