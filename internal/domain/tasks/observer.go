package tasks

import (
	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/permissions"
	"go.uber.org/zap"
)

// observer folds permission prompts of one run into its snapshot. A task's
// workers share it, so several prompts may be outstanding at once; the
// oldest is shown and the task waits until all are answered.
type observer struct {
	m *Manager
	t *task
}

func (o *observer) PromptRaised(prompt permissions.Prompt) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()

	o.t.prompts = append(o.t.prompts, prompt)

	s := &o.t.snap
	o.t.showOldestPromptLocked()
	if s.State == StateRunning {
		s.State = StateWaitingForPermission
	}
	o.m.publishLocked(o.t)

	o.m.logger.Debug("task waiting for permission",
		zap.String("task_id", s.ID),
		zap.String("prompt_id", prompt.ID.String()),
		zap.Int("outstanding", len(o.t.prompts)),
	)
}

func (o *observer) PromptAnswered(prompt permissions.Prompt, decision permissions.Decision) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()

	for i, p := range o.t.prompts {
		if p.ID == prompt.ID {
			o.t.prompts = append(o.t.prompts[:i], o.t.prompts[i+1:]...)
			break
		}
	}

	s := &o.t.snap
	s.History = append(s.History, permissions.NewRecord(prompt, decision))
	o.t.showOldestPromptLocked()
	if s.State == StateWaitingForPermission && len(o.t.prompts) == 0 {
		s.State = StateRunning
	}
	o.m.publishLocked(o.t)
}
