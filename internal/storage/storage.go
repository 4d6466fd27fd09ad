package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned when removing a record that does not exist.
var ErrRecordNotFound = errors.New("record not found")

// DownloadRecord is the durable trace of a started transfer. It is written once
// when the transfer starts and replayed on the next process start.
type DownloadRecord struct {
	Name               string `json:"name"`
	Title              string `json:"title"`
	TransferIdentifier string `json:"transfer_identifier"`
	SourceName         string `json:"source_name"`
	DestinationPath    string `json:"destination_path"`
}

// LedgerRepository stores download records.
type LedgerRepository interface {
	AddRecord(ctx context.Context, record DownloadRecord) error
	RemoveRecord(ctx context.Context, name string) error
	ListRecords(ctx context.Context) ([]DownloadRecord, error)
}

// OpError wraps a failed ledger operation.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
