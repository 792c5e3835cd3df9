package services

import (
	"errors"

	"github.com/dmitrijs2005/pantrysync/internal/client/client"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
	"github.com/dmitrijs2005/pantrysync/internal/common"
)

// Classify maps remote errors onto replay outcomes. Connectivity and
// session problems wait for the next resume without using up attempts;
// rejections by the server are terminal.
func Classify(err error) queue.Outcome {
	switch {
	case err == nil:
		return queue.OutcomeSuccess
	case queue.IsTerminal(err):
		return queue.OutcomeTerminal
	case errors.Is(err, client.ErrUnavailable), errors.Is(err, client.ErrUnauthorized):
		return queue.OutcomeWait
	case errors.Is(err, client.ErrValidation),
		errors.Is(err, client.ErrPermissionDenied),
		errors.Is(err, client.ErrNotFound),
		errors.Is(err, client.ErrAlreadyExists),
		errors.Is(err, common.ErrorValidation):
		return queue.OutcomeTerminal
	}
	return queue.DefaultClassify(err)
}
