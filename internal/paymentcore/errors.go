package paymentcore

import "errors"

var (
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrProviderFetchFailed = errors.New("provider_fetch_failed")
	ErrSyncInProgress      = errors.New("sync_in_progress")
)
