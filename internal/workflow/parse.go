package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// The analysis chains ask for JSON inside a fenced markdown block, but model
// output drifts. Parsing is an explicit two-stage affair: structured decode
// of the fenced block (with jsonrepair as rescue), then a documented
// heuristic line-splitter. Neither stage ever returns an error; the pipeline
// must keep moving on malformed output.

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSONBlock returns the contents of the first fenced code block, or
// the raw text when no fence is present.
func extractJSONBlock(raw string) string {
	if match := fencedJSONRe.FindStringSubmatch(raw); match != nil {
		return match[1]
	}
	return strings.TrimSpace(raw)
}

// decodeLoose decodes candidate JSON, repairing it first when a strict decode
// fails.
func decodeLoose(candidate string, v any) error {
	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("repair json: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}

// stringList flattens a JSON array whose entries may be plain strings or
// objects. Objects are rendered from their most descriptive fields.
func stringList(items []any, fields ...string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			parts := make([]string, 0, len(fields))
			for _, field := range fields {
				if s, ok := v[field].(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				out = append(out, strings.Join(parts, "："))
			}
		}
	}
	return out
}

// ExamPointsResult is the structured outcome of the exam-points analysis.
type ExamPointsResult struct {
	ExamPoints []string `json:"exam_points"`
	Chapter    string   `json:"chapter"`
	Difficulty string   `json:"difficulty"`
}

// ParseExamPoints parses the exam-points chain output. On structural failure
// it degrades to splitting the raw text into at most five bullet lines.
func ParseExamPoints(raw string) ExamPointsResult {
	var decoded struct {
		ExamPoints []any  `json:"exam_points"`
		Chapter    string `json:"chapter"`
		Difficulty string `json:"difficulty"`
	}
	if err := decodeLoose(extractJSONBlock(raw), &decoded); err == nil && len(decoded.ExamPoints) > 0 {
		result := ExamPointsResult{
			ExamPoints: stringList(decoded.ExamPoints, "name", "description"),
			Chapter:    decoded.Chapter,
			Difficulty: decoded.Difficulty,
		}
		if result.Chapter == "" {
			result.Chapter = "未知章节"
		}
		if result.Difficulty == "" {
			result.Difficulty = "中等"
		}
		if len(result.ExamPoints) > 0 {
			return result
		}
	}

	// Heuristic fallback: one point per non-empty line, capped at five.
	var points []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "-•* ")
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		points = append(points, line)
		if len(points) == 5 {
			break
		}
	}
	return ExamPointsResult{ExamPoints: points, Chapter: "未知章节", Difficulty: "中等"}
}

// KnowledgeResult is the structured outcome of the knowledge analysis.
// Knowledge points and mistakes are flattened to strings regardless of
// whether the model emitted strings or objects.
type KnowledgeResult struct {
	KnowledgePoints []string `json:"knowledge_points"`
	CommonMistakes  []string `json:"common_mistakes"`
	RelatedTopics   []string `json:"related_topics"`
}

// ParseKnowledge parses the knowledge chain output. On structural failure the
// raw text becomes a single knowledge point so downstream rendering still has
// something to show.
func ParseKnowledge(raw string) KnowledgeResult {
	var decoded struct {
		KnowledgePoints []any `json:"knowledge_points"`
		CommonMistakes  []any `json:"common_mistakes"`
		RelatedTopics   []any `json:"related_topics"`
	}
	if err := decodeLoose(extractJSONBlock(raw), &decoded); err == nil && len(decoded.KnowledgePoints) > 0 {
		result := KnowledgeResult{
			KnowledgePoints: stringList(decoded.KnowledgePoints, "name", "description"),
			CommonMistakes:  stringList(decoded.CommonMistakes, "mistake"),
			RelatedTopics:   stringList(decoded.RelatedTopics),
		}
		if len(result.KnowledgePoints) > 0 {
			return result
		}
	}

	return KnowledgeResult{
		KnowledgePoints: []string{strings.TrimSpace(raw)},
	}
}

// LogicChainResult is the structured outcome of the logic-chain analysis.
type LogicChainResult struct {
	Steps           []string `json:"steps"`
	ThinkingPattern string   `json:"thinking_pattern"`
}

// ParseLogicChain parses the logic-chain output. On structural failure it
// keeps lines that look like steps, or the whole text as a single step.
func ParseLogicChain(raw string) LogicChainResult {
	var decoded struct {
		Steps           []any  `json:"steps"`
		ThinkingPattern string `json:"thinking_pattern"`
	}
	if err := decodeLoose(extractJSONBlock(raw), &decoded); err == nil && len(decoded.Steps) > 0 {
		result := LogicChainResult{
			Steps:           stringList(decoded.Steps),
			ThinkingPattern: decoded.ThinkingPattern,
		}
		if len(result.Steps) > 0 {
			return result
		}
	}

	var steps []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "第") || strings.HasPrefix(line, "步骤") {
			steps = append(steps, line)
		}
	}
	if len(steps) == 0 {
		steps = []string{strings.TrimSpace(raw)}
	}
	return LogicChainResult{Steps: steps}
}
