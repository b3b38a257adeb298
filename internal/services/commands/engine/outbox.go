package engine

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

// txOutbox binds handler outbox writes to the command and its transaction.
type txOutbox struct {
	writer storage.OutboxWriter
	cmd    command.Command
}

func (o txOutbox) Enqueue(ctx context.Context, topic string, payload any) error {
	body, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode outbox %s payload: %w", topic, err)
	}
	return o.writer.EnqueueOutbox(ctx, storage.OutboxMessage{
		ProjectID: o.cmd.ProjectID,
		CommandID: o.cmd.ID,
		Topic:     topic,
		Key:       o.cmd.ProjectID,
		Payload:   body,
	})
}
