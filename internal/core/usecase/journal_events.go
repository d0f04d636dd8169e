package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

// JournalEventsUseCase persists command-handled events delivered by the event bus.
// Records carry their dispatcher-assigned ID, so redelivery is harmless.
type JournalEventsUseCase struct {
	journal ports.CommandJournal
	now     func() time.Time
}

func NewJournalEventsUseCase(journal ports.CommandJournal) *JournalEventsUseCase {
	return &JournalEventsUseCase{journal: journal, now: time.Now}
}

func (uc *JournalEventsUseCase) Handle(ctx context.Context, record domain.CommandRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: command event without record id", domain.ErrInvalidInput)
	}
	if err := uc.journal.Record(ctx, record); err != nil {
		return domain.WrapError(domain.ErrTemporary, "journal command event", err)
	}
	return nil
}

// DeliveryLatency is the time from the command being answered to now.
func (uc *JournalEventsUseCase) DeliveryLatency(record domain.CommandRecord) time.Duration {
	if record.ReceivedAt.IsZero() {
		return -1
	}
	return uc.now().Sub(record.ReceivedAt.Add(record.Duration))
}
