package models

import "errors"

var (
	ErrPermissionDenied            = errors.New("permission not granted to get push token for push notification")
	ErrMissingProjectConfiguration = errors.New("project ID not found")
	ErrTokenFetch                  = errors.New("failed to fetch push token")
	ErrSend                        = errors.New("failed to send push notification")
	ErrBackgroundTask              = errors.New("background notification task failed")
)
