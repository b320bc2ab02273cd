// Package service provides the chat business logic: conversations and their
// membership, messages, presence and notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"parley/internal/models"
	"parley/internal/notifications"
	"parley/internal/repository"

	"github.com/go-playground/validator/v10"
)

// EventBroadcaster fans events out to live connections. Delivery is best
// effort; implementations never report failures to the caller.
type EventBroadcaster interface {
	ToConversation(ctx context.Context, conversationID uint, event notifications.Event, exclude ...uint)
	ToUser(ctx context.Context, userID uint, event notifications.Event)
	ToEveryone(ctx context.Context, event notifications.Event, exclude ...uint)
	JoinConversationGroup(ctx context.Context, userID, conversationID uint)
	LeaveConversationGroup(ctx context.Context, userID, conversationID uint)
}

// TaskSubmitter runs side effects off the request path.
type TaskSubmitter interface {
	Submit(ctx context.Context, name string, fn func(ctx context.Context) error) bool
}

type noopBroadcaster struct{}

func (noopBroadcaster) ToConversation(context.Context, uint, notifications.Event, ...uint) {}
func (noopBroadcaster) ToUser(context.Context, uint, notifications.Event)                  {}
func (noopBroadcaster) ToEveryone(context.Context, notifications.Event, ...uint)           {}
func (noopBroadcaster) JoinConversationGroup(context.Context, uint, uint)                  {}
func (noopBroadcaster) LeaveConversationGroup(context.Context, uint, uint)                 {}

func orNoop(events EventBroadcaster) EventBroadcaster {
	if events == nil {
		return noopBroadcaster{}
	}
	return events
}

// afterCommit detaches ctx so a cancelled request still delivers the events of
// a mutation that is already durable.
func afterCommit(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return v
}

// validateInput checks validate tags on in and reports the first failure as a
// Validation error.
func validateInput(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return models.NewValidationError(describeFieldError(fieldErrs[0]))
	}
	return models.NewValidationError(err.Error())
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// requireParticipant re-reads the caller's membership row; every
// authorization decision starts here.
func requireParticipant(ctx context.Context, repo repository.ConversationRepository, convID, userID uint) (*models.Participant, error) {
	p, err := repo.GetParticipant(ctx, convID, userID)
	if models.IsNotFound(err) {
		return nil, models.NewForbiddenError("You are not a participant in this conversation")
	}
	if err != nil {
		return nil, err
	}
	if !p.Active() {
		return nil, models.NewForbiddenError("You are no longer a participant in this conversation")
	}
	return p, nil
}

func requireRole(ctx context.Context, repo repository.ConversationRepository, convID, userID uint, required models.ParticipantRole) (*models.Participant, error) {
	p, err := requireParticipant(ctx, repo, convID, userID)
	if err != nil {
		return nil, err
	}
	if !p.Role.AtLeast(required) {
		if required == models.RoleOwner {
			return nil, models.NewForbiddenError("Only the owner can perform this action")
		}
		return nil, models.NewForbiddenError("Admin privileges required")
	}
	return p, nil
}

// dedupeIDs drops zero ids, duplicates and skip while keeping input order.
func dedupeIDs(ids []uint, skip uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || id == skip {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
