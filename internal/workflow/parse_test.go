package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExamPointsWellFormed(t *testing.T) {
	raw := "分析如下：\n```json\n{\"exam_points\": [\"知识点1：光合作用的场所\", \"知识点2：暗反应条件\"], \"chapter\": \"光合作用\", \"difficulty\": \"中等\"}\n```"

	result := ParseExamPoints(raw)
	assert.Equal(t, []string{"知识点1：光合作用的场所", "知识点2：暗反应条件"}, result.ExamPoints)
	assert.Equal(t, "光合作用", result.Chapter)
	assert.Equal(t, "中等", result.Difficulty)
}

func TestParseExamPointsRepairsMalformedJSON(t *testing.T) {
	// Trailing comma and unquoted key, the usual model damage.
	raw := "```json\n{exam_points: [\"考点A\", \"考点B\",], \"chapter\": \"遗传\"}\n```"

	result := ParseExamPoints(raw)
	assert.Equal(t, []string{"考点A", "考点B"}, result.ExamPoints)
	assert.Equal(t, "遗传", result.Chapter)
}

func TestParseExamPointsFallsBackToLines(t *testing.T) {
	raw := "- 考点一\n- 考点二\n- 考点三\n- 考点四\n- 考点五\n- 考点六"

	result := ParseExamPoints(raw)
	assert.Len(t, result.ExamPoints, 5)
	assert.Equal(t, "考点一", result.ExamPoints[0])
	assert.Equal(t, "未知章节", result.Chapter)
	assert.Equal(t, "中等", result.Difficulty)
}

func TestParseKnowledgeFlattensObjects(t *testing.T) {
	raw := `{"knowledge_points": [{"name": "基因分离定律", "description": "杂合子自交后代性状分离比为3:1", "importance": "高"}], "common_mistakes": [{"mistake": "混淆基因型与表现型", "reason": "概念不清"}], "related_topics": ["自由组合定律"]}`

	result := ParseKnowledge(raw)
	require.Len(t, result.KnowledgePoints, 1)
	assert.Equal(t, "基因分离定律：杂合子自交后代性状分离比为3:1", result.KnowledgePoints[0])
	assert.Equal(t, []string{"混淆基因型与表现型"}, result.CommonMistakes)
	assert.Equal(t, []string{"自由组合定律"}, result.RelatedTopics)
}

func TestParseKnowledgeAcceptsPlainStrings(t *testing.T) {
	raw := `{"knowledge_points": ["光反应产物", "暗反应条件"], "common_mistakes": ["忽略温度影响"]}`

	result := ParseKnowledge(raw)
	assert.Equal(t, []string{"光反应产物", "暗反应条件"}, result.KnowledgePoints)
	assert.Equal(t, []string{"忽略温度影响"}, result.CommonMistakes)
}

func TestParseKnowledgeFallbackKeepsRawText(t *testing.T) {
	raw := "这道题主要考察细胞呼吸的三个阶段。"

	result := ParseKnowledge(raw)
	assert.Equal(t, []string{raw}, result.KnowledgePoints)
	assert.Empty(t, result.CommonMistakes)
}

func TestParseLogicChainWellFormed(t *testing.T) {
	raw := "```json\n{\"steps\": [\"提取已知条件：草固定太阳能1000kJ\", \"计算能量传递效率为10%-20%\"], \"thinking_pattern\": \"能量流动计算\"}\n```"

	result := ParseLogicChain(raw)
	assert.Len(t, result.Steps, 2)
	assert.Equal(t, "能量流动计算", result.ThinkingPattern)
}

func TestParseLogicChainFallbackKeepsStepLines(t *testing.T) {
	raw := "解题过程如下\n第一步：提取条件\n步骤2：代入公式\n无关的一行"

	result := ParseLogicChain(raw)
	assert.Equal(t, []string{"第一步：提取条件", "步骤2：代入公式"}, result.Steps)
}

func TestParseLogicChainFallbackWholeText(t *testing.T) {
	raw := "整体分析即可得出答案"

	result := ParseLogicChain(raw)
	assert.Equal(t, []string{raw}, result.Steps)
}

func TestExtractJSONBlockWithoutFence(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSONBlock(`  {"a": 1}  `))
}
