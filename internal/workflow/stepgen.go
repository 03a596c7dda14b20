package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"biotutor/internal/config"
	"biotutor/internal/llm"
	"biotutor/internal/logging"
	"biotutor/internal/session"
)

// StepGenerator turns a worked solution into guided tutoring steps. It never
// fails: when the logic chain fits the step bounds it is reused directly,
// otherwise the model is asked for structured blocks, and a fixed three-step
// template backs everything as the last resort.
type StepGenerator struct {
	cfg    config.TutoringConfig
	logger logging.Logger
}

// NewStepGenerator builds a generator with the given tutoring policy.
func NewStepGenerator(cfg config.TutoringConfig, logger logging.Logger) *StepGenerator {
	return &StepGenerator{cfg: cfg, logger: logging.OrNop(logger)}
}

// Generate produces the guided step list for a question. logicChain, when it
// already has an acceptable number of entries, is trusted over a fresh model
// call.
func (g *StepGenerator) Generate(ctx context.Context, client llm.Client, question, solution string, logicChain []string) []session.GuidedStep {
	if n := len(logicChain); n >= g.cfg.MinSteps && n <= g.cfg.MaxSteps {
		g.logger.Info("Reusing %d logic-chain steps for guided tutoring", n)
		return g.fromLogicChain(logicChain)
	}

	steps, err := g.fromModel(ctx, client, question, solution)
	if err == nil && len(steps) >= g.cfg.MinSteps {
		if len(steps) > g.cfg.MaxSteps {
			steps = steps[:g.cfg.MaxSteps]
		}
		return reindex(steps)
	}
	if err != nil {
		g.logger.Warn("Step generation model call failed, falling back: %v", err)
	} else {
		g.logger.Warn("Step generation produced %d steps, below minimum %d, falling back", len(steps), g.cfg.MinSteps)
	}

	if len(logicChain) > g.cfg.MaxSteps {
		return g.fromLogicChain(logicChain[:g.cfg.MaxSteps])
	}
	if len(logicChain) > 0 {
		return g.fromLogicChain(logicChain)
	}
	return g.defaultSteps(question)
}

// fromLogicChain converts logic-chain statements into steps. The statement
// itself becomes the expected understanding so the evaluator has a concrete
// target.
func (g *StepGenerator) fromLogicChain(chain []string) []session.GuidedStep {
	steps := make([]session.GuidedStep, 0, len(chain))
	for i, text := range chain {
		title := deriveTitle(text)
		steps = append(steps, session.GuidedStep{
			Index:                 i,
			Title:                 title,
			Description:           text,
			GuidingQuestion:       chainQuestion(text, title),
			ExpectedUnderstanding: text,
		})
	}
	return steps
}

// chainQuestion picks a concrete question form from the step's topic so the
// opening question asks for a specific answer rather than a restatement.
func chainQuestion(text, title string) string {
	switch {
	case strings.Contains(text, "营养级") || strings.Contains(text, "食物链"):
		return fmt.Sprintf("在这条食物链中，%s属于第几营养级？", title)
	case strings.Contains(text, "能量"):
		return "根据能量传递效率，这一步需要计算的能量值是多少？"
	case strings.Contains(text, "光合作用"):
		return fmt.Sprintf("光合作用中，%s发生在什么部位？", title)
	case strings.Contains(text, "呼吸作用"):
		return fmt.Sprintf("呼吸作用中，%s的产物是什么？", title)
	case strings.Contains(text, "遗传") || strings.Contains(text, "基因"):
		return fmt.Sprintf("根据遗传规律，%s的基因型是什么？", title)
	case strings.Contains(text, "比例") || strings.Contains(text, "概率"):
		return "根据分析，这个比例或概率的具体数值是多少？"
	case strings.Contains(text, "判断") || strings.Contains(text, "正确") || strings.Contains(text, "错误"):
		return "这个说法是正确还是错误？说说你的判断。"
	case strings.Contains(text, "分析"):
		return "分析这一步，关键的结论是什么？"
	default:
		return fmt.Sprintf("关于「%s」，你能说出这一步的关键结论吗？", title)
	}
}

var stepFieldRe = regexp.MustCompile(`^步骤\d*(标题|描述|问题|答案)[:：]\s*(.+)$`)

// fromModel asks the model for structured step blocks and parses them.
func (g *StepGenerator) fromModel(ctx context.Context, client llm.Client, question, solution string) ([]session.GuidedStep, error) {
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(stepGenerationPrompt, question, solution),
		}},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("generate steps: %w", err)
	}
	return parseStepBlocks(resp.Content), nil
}

// parseStepBlocks parses "---"-separated blocks of 标题/描述/问题/答案 lines.
// Blocks missing a title or question are skipped.
func parseStepBlocks(raw string) []session.GuidedStep {
	var steps []session.GuidedStep
	for _, block := range strings.Split(raw, "---") {
		var step session.GuidedStep
		for _, line := range strings.Split(block, "\n") {
			match := stepFieldRe.FindStringSubmatch(strings.TrimSpace(line))
			if match == nil {
				continue
			}
			value := strings.Trim(strings.TrimSpace(match[2]), "[]")
			switch match[1] {
			case "标题":
				step.Title = value
			case "描述":
				step.Description = value
			case "问题":
				step.GuidingQuestion = value
			case "答案":
				step.ExpectedUnderstanding = value
			}
		}
		if step.Title == "" || step.GuidingQuestion == "" {
			continue
		}
		if step.Description == "" {
			step.Description = step.Title
		}
		steps = append(steps, step)
	}
	return reindex(steps)
}

// defaultSteps is the fixed fallback when neither the logic chain nor the
// model yields usable steps.
func (g *StepGenerator) defaultSteps(question string) []session.GuidedStep {
	return reindex([]session.GuidedStep{
		{
			Title:                 "分析题目",
			Description:           "仔细阅读题目，找出题干中的已知条件和要求解的问题。",
			GuidingQuestion:       fmt.Sprintf("这道题「%s」的已知条件有哪些？要求解的是什么？", truncateRunes(question, 40)),
			ExpectedUnderstanding: "准确提取题干中的条件与设问",
		},
		{
			Title:                 "运用知识",
			Description:           "确定这道题涉及的核心生物学知识点，并建立条件与知识点的联系。",
			GuidingQuestion:       "这道题考察的核心生物学知识点是什么？",
			ExpectedUnderstanding: "说出题目对应的核心知识点",
		},
		{
			Title:                 "得出结论",
			Description:           "结合条件和知识点进行推理，得出最终答案。",
			GuidingQuestion:       "结合前面的分析，这道题的最终结论应该是什么？",
			ExpectedUnderstanding: "推理出正确结论",
		},
	})
}

func reindex(steps []session.GuidedStep) []session.GuidedStep {
	for i := range steps {
		steps[i].Index = i
		steps[i].Completed = false
	}
	return steps
}

var stepNumberingRe = regexp.MustCompile(`^[\d\.、\)）]+\s*`)

// deriveTitle strips leading numbering, then takes the text up to the first
// strong punctuation, capped at twelve runes.
func deriveTitle(text string) string {
	text = stepNumberingRe.ReplaceAllString(strings.TrimSpace(text), "")
	if idx := strings.IndexAny(text, "：:，,。；;"); idx > 0 {
		text = text[:idx]
	}
	return truncateRunes(text, 12)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
