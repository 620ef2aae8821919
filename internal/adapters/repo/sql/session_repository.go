package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/bnema/mailpilot/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct {
	db *gorm.DB
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Get(ctx context.Context, id domain.ConversationID) (domain.WorkflowSession, error) {
	var model sessionModel
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", string(id)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.WorkflowSession{}, domain.ErrSessionNotFound
		}
		return domain.WorkflowSession{}, fmt.Errorf("load session: %w", err)
	}

	return sessionFromModel(model)
}

// Save creates the session at version 1 or moves it from Version-1 to
// Version, and appends checkpoint, in one transaction. A session another
// writer already moved is left alone and ErrStaleSession is returned.
func (r *SessionRepository) Save(ctx context.Context, session domain.WorkflowSession, checkpoint *domain.Checkpoint) error {
	model, err := sessionToModel(session)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var result *gorm.DB
		if session.Version == 1 {
			result = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		} else {
			result = tx.Model(&sessionModel{}).
				Where("conversation_id = ? AND version = ?", model.ConversationID, session.Version-1).
				Select("*").
				Updates(&model)
		}
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrStaleSession
		}
		if checkpoint == nil {
			return nil
		}

		row := checkpointModel{
			ID:             checkpoint.ID,
			ConversationID: string(checkpoint.ConversationID),
			Seq:            checkpoint.Seq,
			State:          string(checkpoint.State),
			Event:          string(checkpoint.Event),
			Payload:        string(checkpoint.Payload),
			CreatedAt:      checkpoint.CreatedAt.UTC(),
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, domain.ErrStaleSession) {
		return err
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (r *SessionRepository) Checkpoints(ctx context.Context, id domain.ConversationID) ([]domain.Checkpoint, error) {
	var rows []checkpointModel
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", string(id)).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}

	out := make([]domain.Checkpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Checkpoint{
			ID:             row.ID,
			ConversationID: domain.ConversationID(row.ConversationID),
			Seq:            row.Seq,
			State:          domain.WorkflowState(row.State),
			Event:          domain.EventKind(row.Event),
			Payload:        json.RawMessage(row.Payload),
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (r *SessionRepository) LatestForUser(ctx context.Context, userID domain.UserID) (domain.WorkflowSession, error) {
	var model sessionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", string(userID)).
		Order("last_activity_at desc, conversation_id desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.WorkflowSession{}, domain.ErrSessionNotFound
		}
		return domain.WorkflowSession{}, fmt.Errorf("load latest session: %w", err)
	}

	return sessionFromModel(model)
}

func sessionToModel(session domain.WorkflowSession) (sessionModel, error) {
	values := session.Context
	if values == nil {
		values = map[string]string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return sessionModel{}, fmt.Errorf("encode session context: %w", err)
	}

	return sessionModel{
		ConversationID:     string(session.ConversationID),
		UserID:             string(session.UserID),
		State:              string(session.State),
		Intent:             session.Intent,
		SelectedTemplateID: session.SelectedTemplateID,
		RecipientsTotal:    session.Recipients.Total,
		RecipientsValid:    session.Recipients.Valid,
		RecipientsInvalid:  session.Recipients.Invalid,
		Summary:            session.Summary,
		Context:            string(encoded),
		CreatedAt:          session.CreatedAt.UTC(),
		LastActivityAt:     session.LastActivityAt.UTC(),
		Version:            session.Version,
		AbandonReason:      session.AbandonReason,
	}, nil
}

func sessionFromModel(model sessionModel) (domain.WorkflowSession, error) {
	state := domain.WorkflowState(model.State)
	if !state.Valid() {
		return domain.WorkflowSession{}, fmt.Errorf("session %s has unknown state %q", model.ConversationID, model.State)
	}

	values := map[string]string{}
	if model.Context != "" {
		if err := json.Unmarshal([]byte(model.Context), &values); err != nil {
			return domain.WorkflowSession{}, fmt.Errorf("decode session context: %w", err)
		}
	}

	var templateID *string
	if model.SelectedTemplateID != nil {
		id := *model.SelectedTemplateID
		templateID = &id
	}

	return domain.WorkflowSession{
		ConversationID:     domain.ConversationID(model.ConversationID),
		UserID:             domain.UserID(model.UserID),
		State:              state,
		Intent:             model.Intent,
		SelectedTemplateID: templateID,
		Recipients: domain.RecipientStats{
			Total:   model.RecipientsTotal,
			Valid:   model.RecipientsValid,
			Invalid: model.RecipientsInvalid,
		},
		Summary:        model.Summary,
		Context:        values,
		CreatedAt:      model.CreatedAt.UTC(),
		LastActivityAt: model.LastActivityAt.UTC(),
		Version:        model.Version,
		AbandonReason:  model.AbandonReason,
	}, nil
}
