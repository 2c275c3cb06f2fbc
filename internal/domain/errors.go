package domain

import "errors"

var (
	ErrScheduleNotFound      = errors.New("schedule not found")
	ErrInvalidCronExpr       = errors.New("invalid cron expression")
	ErrInvalidTimezone       = errors.New("invalid IANA timezone")
	ErrScheduleAlreadyPaused = errors.New("schedule is already paused")
	ErrScheduleNotPaused     = errors.New("schedule is not paused")
	ErrScheduleNameConflict  = errors.New("schedule with this name already exists")
	ErrPausedSnapshotMissing = errors.New("no paused snapshot for this schedule")
	ErrCronRequiredOnUpdate  = errors.New("cron is required on update")
	ErrCronRequiredOnResume  = errors.New("cron is required: not present in paused snapshot or request")

	ErrJobRunNotFound = errors.New("job run not found")

	ErrUserNotFound = errors.New("user not found")
	ErrTokenInvalid = errors.New("token is invalid or expired")
	ErrUnauthorized = errors.New("unauthorized")
)
