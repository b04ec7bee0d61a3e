package analysis

import (
	"fmt"
	"strings"

	"github.com/kormo-connect/backend/internal/ai"
	"github.com/kormo-connect/backend/internal/profiles"
	"github.com/kormo-connect/backend/internal/tasks"
)

const (
	requiredSkillsPrefixRunes = 50
	defaultExperienceLevel    = "Any"
)

var suitabilityOptions = ai.GenerationOptions{
	Temperature:     0.3,
	TopK:            20,
	TopP:            0.8,
	MaxOutputTokens: 500,
}

const suitabilityTemplate = `You are a hiring analyst and a strict formatter. Assess how well the worker fits the job described in DATA and answer in the exact format below.

RULES:
1. Give a Score between 0.00 (no fit) and 1.00 (perfect fit).
2. Start the answer with "Score:".
3. Write nothing before or after the formatted answer.
4. Every section header and every item is a bullet line starting with "•".
5. At most three items per section.

DATA:
WORKER: Skills: %s | Exp: %s | Edu: %s
JOB: %s | Req: %s | Level: %s

FORMAT:
Score: 0.XX
• Strengths:
• [item]
• [item]
• Weaknesses:
• [item]
• [item]
• Suggestions:
• [item]
• [item]`

// BuildSuitabilityPrompt renders the compact prompt for a worker and task.
func BuildSuitabilityPrompt(signature profiles.Signature, task tasks.Task) ai.Prompt {
	level := strings.TrimSpace(task.ExperienceLevel)
	if level == "" {
		level = defaultExperienceLevel
	}
	text := fmt.Sprintf(suitabilityTemplate,
		truncateRunes(signature.Skills, skillsPrefixRunes),
		truncateRunes(signature.Experience, experiencePrefixRunes),
		truncateRunes(signature.Education, educationPrefixRunes),
		task.Title,
		truncateRunes(task.RequiredSkills, requiredSkillsPrefixRunes),
		level,
	)
	return ai.Prompt{Text: text, Options: suitabilityOptions}
}
