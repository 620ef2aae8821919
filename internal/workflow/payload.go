package workflow

import (
	"fmt"
	"time"

	"github.com/bnema/mailpilot/internal/domain"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func encodePayload(session domain.WorkflowSession) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		payload, err = sjson.SetBytes(payload, path, value)
	}

	context := session.Context
	if context == nil {
		context = map[string]string{}
	}

	set("conversation_id", string(session.ConversationID))
	set("user_id", string(session.UserID))
	set("state", string(session.State))
	set("intent", session.Intent)
	if session.SelectedTemplateID != nil {
		set("selected_template_id", *session.SelectedTemplateID)
	} else {
		set("selected_template_id", nil)
	}
	set("recipients.total", session.Recipients.Total)
	set("recipients.valid", session.Recipients.Valid)
	set("recipients.invalid", session.Recipients.Invalid)
	set("summary", session.Summary)
	set("context", context)
	set("created_at", formatTime(session.CreatedAt))
	set("last_activity_at", formatTime(session.LastActivityAt))
	set("version", session.Version)
	if session.AbandonReason != "" {
		set("abandon_reason", session.AbandonReason)
	}
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint payload: %w", err)
	}

	return payload, nil
}

func decodePayload(payload []byte) (domain.WorkflowSession, error) {
	if !gjson.ValidBytes(payload) {
		return domain.WorkflowSession{}, fmt.Errorf("decode checkpoint payload: %w", domain.ErrCorruptCheckpointLog)
	}

	root := gjson.ParseBytes(payload)
	session := domain.WorkflowSession{
		ConversationID: domain.ConversationID(root.Get("conversation_id").String()),
		UserID:         domain.UserID(root.Get("user_id").String()),
		State:          domain.WorkflowState(root.Get("state").String()),
		Intent:         root.Get("intent").String(),
		Recipients: domain.RecipientStats{
			Total:   int(root.Get("recipients.total").Int()),
			Valid:   int(root.Get("recipients.valid").Int()),
			Invalid: int(root.Get("recipients.invalid").Int()),
		},
		Summary:        root.Get("summary").String(),
		Context:        map[string]string{},
		CreatedAt:      parseTime(root.Get("created_at").String()),
		LastActivityAt: parseTime(root.Get("last_activity_at").String()),
		Version:        int(root.Get("version").Int()),
		AbandonReason:  root.Get("abandon_reason").String(),
	}

	if templateID := root.Get("selected_template_id"); templateID.Exists() && templateID.Type != gjson.Null {
		id := templateID.String()
		session.SelectedTemplateID = &id
	}

	root.Get("context").ForEach(func(key, value gjson.Result) bool {
		session.Context[key.String()] = value.String()
		return true
	})

	return session, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
