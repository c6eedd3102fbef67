// Package syncer drains the local store's pending records to the server in
// the background. Records are marked synced or failed per the server's
// per-record verdict; transport failures leave everything pending for the
// next tick.
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/online"
	"warungpos/terminal/internal/serverapi"
)

const defaultBatchSize = 50

type Worker struct {
	store    localstore.Store
	server   serverapi.Client
	detector online.Detector
	log      *logrus.Logger
	storeID  string
	interval time.Duration
	batch    int
}

func NewWorker(store localstore.Store, server serverapi.Client, detector online.Detector, log *logrus.Logger, storeID string, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if detector == nil {
		detector = online.Always{}
	}
	return &Worker{
		store:    store,
		server:   server,
		detector: detector,
		log:      log,
		storeID:  storeID,
		interval: interval,
		batch:    defaultBatchSize,
	}
}

// Run loops until ctx is cancelled. Failed records are retried on every
// tick alongside fresh pending ones.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				w.log.WithError(err).Warn("syncer: sync pass failed")
			}
		}
	}
}

// SyncOnce pushes one batch of pending and previously failed records.
func (w *Worker) SyncOnce(ctx context.Context) error {
	if !w.detector.Online(ctx) {
		return nil
	}

	envelope := serverapi.SyncEnvelope{
		EnvelopeID: uuid.NewString(),
		StoreID:    w.storeID,
	}

	for _, status := range []domain.SyncStatus{domain.SyncPending, domain.SyncFailed} {
		txs, err := w.store.ListTransactionsBySyncStatus(ctx, status, w.batch)
		if err != nil {
			return err
		}
		envelope.Transactions = append(envelope.Transactions, txs...)

		shifts, err := w.store.ListShiftsBySyncStatus(ctx, status, w.batch)
		if err != nil {
			return err
		}
		envelope.Shifts = append(envelope.Shifts, shifts...)
	}

	if len(envelope.Transactions) == 0 && len(envelope.Shifts) == 0 {
		return nil
	}

	result, err := w.server.SyncRecords(ctx, envelope)
	if err != nil {
		return err
	}

	verdicts := make(map[string]domain.SyncStatus, len(result.Statuses))
	for _, rs := range result.Statuses {
		switch rs.Status {
		case "accepted":
			verdicts[rs.RecordID] = domain.SyncSynced
		default:
			verdicts[rs.RecordID] = domain.SyncFailed
			w.log.WithFields(logrus.Fields{
				"record_id": rs.RecordID,
				"reason":    rs.Reason,
			}).Warn("syncer: record rejected by server")
		}
	}

	for _, tx := range envelope.Transactions {
		status, ok := verdicts[tx.ID]
		if !ok {
			continue
		}
		if err := w.store.UpdateTransactionSyncStatus(ctx, tx.ID, status); err != nil {
			w.log.WithError(err).WithField("record_id", tx.ID).Warn("syncer: mark transaction failed")
		}
	}
	for _, shift := range envelope.Shifts {
		status, ok := verdicts[shift.ID]
		if !ok {
			continue
		}
		if err := w.store.UpdateShiftSyncStatus(ctx, shift.ID, status); err != nil {
			w.log.WithError(err).WithField("record_id", shift.ID).Warn("syncer: mark shift failed")
		}
	}

	w.log.WithFields(logrus.Fields{
		"envelope_id":  envelope.EnvelopeID,
		"transactions": len(envelope.Transactions),
		"shifts":       len(envelope.Shifts),
	}).Info("syncer: sync pass complete")
	return nil
}
