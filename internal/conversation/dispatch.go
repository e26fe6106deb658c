package conversation

import (
	"context"

	"github.com/google/uuid"
)

// dispatch fans out post-commit enrichment for a freshly committed turn:
// related-question suggestions, image discovery across the turn's sources,
// and a workspace summary refresh. Each runs in its own supervised goroutine
// and applies its result only if the session generation still matches and the
// turn is still the latest model turn.
func (m *Manager) dispatch(gen uint64, committed Turn) {
	if m.suggester != nil && committed.Content != "" {
		m.tasks.Add(1)
		go func() {
			defer m.tasks.Done()
			ctx, cancel := context.WithTimeout(m.baseCtx, enrichTimeout)
			defer cancel()

			related, err := m.suggester.Suggest(ctx, committed.Content)
			if err != nil {
				m.logger.Warn("related suggestions failed", "turn_id", committed.ID, "error", err)
				related = nil
			}
			// Applied even when empty so the turn records a finished attempt.
			m.applyRelated(gen, committed.ID, related)
		}()
	}

	if m.images != nil && len(committed.Sources) > 0 {
		m.tasks.Add(1)
		go func() {
			defer m.tasks.Done()
			ctx, cancel := context.WithTimeout(m.baseCtx, enrichTimeout)
			defer cancel()

			images, err := m.images.Find(ctx, committed.Sources)
			if err != nil {
				m.logger.Warn("image discovery failed", "turn_id", committed.ID, "error", err)
				return
			}
			m.applyImages(gen, committed.ID, images)
		}()
	}

	if m.summaries != nil {
		m.tasks.Add(1)
		go func() {
			defer m.tasks.Done()
			ctx, cancel := context.WithTimeout(m.baseCtx, enrichTimeout)
			defer cancel()

			if err := m.summaries.Refresh(ctx, m.workspaceID); err != nil {
				m.logger.Warn("workspace summary refresh failed", "workspace_id", m.workspaceID, "error", err)
			}
		}()
	}
}

// enrichable reports whether an enrichment result may still land: the session
// generation must match and the target must be the latest model turn. The
// caller holds m.mu. Returns the target turn or nil.
func (m *Manager) enrichable(gen uint64, turnID uuid.UUID) *Turn {
	if gen != m.generation {
		return nil
	}
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if t.Role != RoleModel {
			continue
		}
		if t.ID == turnID {
			return t
		}
		return nil
	}
	return nil
}

func (m *Manager) applyRelated(gen uint64, turnID uuid.UUID, related []string) {
	m.mu.Lock()
	t := m.enrichable(gen, turnID)
	if t == nil {
		m.mu.Unlock()
		return
	}
	t.Related = related
	t.RelatedResolved = true
	images := t.Images
	resolved := t.ImagesResolved
	m.mu.Unlock()

	m.emit(Event{Kind: EventTurnEnriched, TurnID: turnID})
	if related != nil || resolved {
		m.persistEnrichment(turnID, imagesOrNil(images, resolved), related)
	}
}

func (m *Manager) applyImages(gen uint64, turnID uuid.UUID, images []Image) {
	m.mu.Lock()
	t := m.enrichable(gen, turnID)
	if t == nil {
		m.mu.Unlock()
		return
	}
	t.Images = images
	t.ImagesResolved = true
	related := t.Related
	m.mu.Unlock()

	m.emit(Event{Kind: EventTurnEnriched, TurnID: turnID})
	m.persistEnrichment(turnID, images, related)
}

// imagesOrNil keeps an unresolved image lookup distinct from a resolved empty
// result when persisting.
func imagesOrNil(images []Image, resolved bool) []Image {
	if !resolved {
		return nil
	}
	if images == nil {
		return []Image{}
	}
	return images
}

func (m *Manager) persistEnrichment(turnID uuid.UUID, images []Image, related []string) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.baseCtx, persistTimeout)
	defer cancel()

	if err := m.history.SetEnrichment(ctx, turnID, images, related); err != nil {
		m.logger.Warn("enrichment persist failed", "turn_id", turnID, "error", err)
	}
}
