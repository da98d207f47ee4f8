package bridge

import (
	"fmt"

	"github.com/sipeed/halbridge/pkg/logger"
)

// Evaluator executes script in the page's JavaScript context. Evaluate must
// not block; done is called once with the result or the execution error.
type Evaluator interface {
	Evaluate(script string, done func(result any, err error))
}

// ScriptRunner submits synthesized script and logs the outcome. Errors stop
// here and never reach the capability that produced the script.
type ScriptRunner struct {
	eval Evaluator
}

func NewScriptRunner(eval Evaluator) *ScriptRunner {
	return &ScriptRunner{eval: eval}
}

func (r *ScriptRunner) Run(script, correlationID string) {
	if r == nil || r.eval == nil {
		logger.WarnCF("evaluator", "No page attached, dropping script", map[string]interface{}{
			"correlation_id": correlationID,
			"script":         truncateScript(script),
		})
		return
	}
	r.eval.Evaluate(script, func(result any, err error) {
		if err != nil {
			logger.WarnCF("evaluator", "Script evaluation failed", map[string]interface{}{
				"correlation_id": correlationID,
				"script":         truncateScript(script),
				"error":          err.Error(),
			})
			return
		}
		logger.DebugCF("evaluator", "Script evaluated", map[string]interface{}{
			"correlation_id": correlationID,
			"result":         fmt.Sprint(result),
		})
	})
}

func truncateScript(s string) string {
	const max = 160
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
