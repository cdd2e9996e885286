package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/juncture-dev/juncture/pkg/codex"
)

// resolveModel picks the model for a turn: explicit override first, then
// the project's pinned default, then the global default. The pick is
// validated against the agent's model list when one is available; an
// unknown pick falls back to the list's first entry, and a failed list
// fetch trusts the requested id as-is.
func (b *Bridge) resolveModel(ctx context.Context, projectPath, override string) string {
	model := override
	if model == "" {
		model = b.sessions.ProjectModel(projectPath)
	}
	if model == "" {
		model = b.agentCfg.DefaultModel
	}

	models, err := b.ListModels(ctx)
	if err != nil || len(models) == 0 {
		return model
	}
	for _, m := range models {
		if m.ID == model {
			return model
		}
	}
	b.logger.Warn("requested model not reported by agent, using first listed",
		zap.String("model", model), zap.String("fallback", models[0].ID))
	return models[0].ID
}

// ListModels fetches the agent's model list, caching the last successful
// response so the list survives brief disconnects.
func (b *Bridge) ListModels(ctx context.Context) ([]codex.Model, error) {
	raw, err := b.requestWithRetry(ctx, codex.MethodModelList, nil)
	if err != nil {
		b.mu.RLock()
		cached := b.modelCache
		b.mu.RUnlock()
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}

	var result codex.ModelListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.modelCache = result.Models
	b.mu.Unlock()
	return result.Models, nil
}

// openThread starts (or resumes) an agent thread for a session. Older
// agent builds reject the project fields with an invalid-params error; the
// request is retried once without them. An unknown-model rejection retries
// once with the agent's own first listed model.
func (b *Bridge) openThread(ctx context.Context, threadID, projectPath, model string) (string, string, error) {
	method := codex.MethodThreadStart
	params := any(&codex.ThreadStartParams{Model: model, Cwd: projectPath})
	if threadID != "" {
		method = codex.MethodThreadResume
		params = &codex.ThreadResumeParams{ThreadID: threadID, Model: model, Cwd: projectPath}
	}

	raw, err := b.requestWithRetry(ctx, method, params)

	var rpcErr *codex.Error
	if err != nil && errors.As(err, &rpcErr) {
		switch {
		case isInvalidParams(rpcErr):
			b.logger.Debug("agent rejected thread params, retrying without project fields")
			if threadID != "" {
				raw, err = b.requestWithRetry(ctx, method, &codex.ThreadResumeParams{ThreadID: threadID})
			} else {
				raw, err = b.requestWithRetry(ctx, method, &codex.ThreadStartParams{})
			}
		case isUnknownModel(rpcErr):
			models, listErr := b.ListModels(ctx)
			if listErr != nil || len(models) == 0 {
				return "", "", err
			}
			model = models[0].ID
			b.logger.Warn("agent rejected configured model, retrying with first listed",
				zap.String("model", model))
			if threadID != "" {
				raw, err = b.requestWithRetry(ctx, method, &codex.ThreadResumeParams{ThreadID: threadID, Model: model, Cwd: projectPath})
			} else {
				raw, err = b.requestWithRetry(ctx, method, &codex.ThreadStartParams{Model: model, Cwd: projectPath})
			}
		}
	}
	if err != nil {
		return "", "", err
	}

	var result codex.ThreadStartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", "", err
	}
	id := threadID
	if result.Thread != nil && result.Thread.ID != "" {
		id = result.Thread.ID
	}
	return id, model, nil
}
