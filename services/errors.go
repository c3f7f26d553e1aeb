package services

import "errors"

var (
	ErrCompetitionNotFound     = errors.New("competition not found")
	ErrCompetitionUnresolved   = errors.New("competition has no tracker resource yet")
	ErrMissingVerificationCode = errors.New("competition verification code is missing")
	ErrMissingChannel          = errors.New("guild channel is not configured")
	ErrInvalidTimes            = errors.New("competition end must be after its start")
	ErrVoteNotFound            = errors.New("vote not found")
	ErrNotEnoughOptions        = errors.New("not enough poll options available")
	ErrUnknownMetric           = errors.New("no metric matches poll option")
	ErrUnknownCompetitionType  = errors.New("unknown competition type")
	ErrInvalidSettings         = errors.New("invalid competition settings")
)
