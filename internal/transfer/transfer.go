// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anselor/ankermake-m5-protocol/internal/errs"
	"github.com/anselor/ankermake-m5-protocol/internal/pppp"
	"github.com/anselor/ankermake-m5-protocol/internal/session"
	"github.com/anselor/ankermake-m5-protocol/internal/wire"
)

// chunkSize is the DATA frame payload size (spec.md §4.4).
const chunkSize = 32 * 1024

// connectPollInterval is how often SendFile polls for the Connected
// state before starting an upload.
const connectPollInterval = 100 * time.Millisecond

// DefaultRateMbps is send_file's default rate limit when the caller
// doesn't specify one.
const DefaultRateMbps = 10

// newTransferID returns the first 16 ASCII characters of a fresh UUID's
// canonical string form (dashes included), matching the original
// implementation's `str(uuid.uuid4())[:16]`.
func newTransferID() string {
	return uuid.NewString()[:16]
}

// SendFile implements send_file(session, fui, data, rate_limit_mbps):
// it waits for the P2P service to be connected, acquires exclusive use
// of the bulk channel, and emits the SEND_FILE command followed by a
// BEGIN/DATA.../END frame sequence throttled to rateMbps. Any transport
// error aborts the transfer with ErrTransferAborted; the bulk-channel
// token is always released on return.
func SendFile(ctx context.Context, svc *pppp.PPPPService, fui FileUploadInfo, data []byte, rateMbps float64) error {
	if rateMbps <= 0 {
		rateMbps = DefaultRateMbps
	}

	if err := waitConnected(ctx, svc); err != nil {
		return err
	}

	if err := svc.AcquireBulk(); err != nil {
		return err
	}
	defer svc.ReleaseBulk()

	sess := svc.Session()
	if sess == nil || sess.State() != session.Connected {
		return fmt.Errorf("transfer: %w: session not connected", errs.ErrTransferAborted)
	}

	transferID := newTransferID()
	if err := sess.SendFramed([]byte(transferID), 0, wire.P2PSendFile); err != nil {
		return fmt.Errorf("transfer: %w: send_file command: %v", errs.ErrTransferAborted, err)
	}

	meta, err := fui.Serialize()
	if err != nil {
		return fmt.Errorf("transfer: %w: serialize file info: %v", errs.ErrTransferAborted, err)
	}
	beginPayload := append(meta, 0x00)
	if err := sess.SendBulk(beginPayload, wire.FrameBegin, 0); err != nil {
		return fmt.Errorf("transfer: %w: begin frame: %v", errs.ErrTransferAborted, err)
	}

	limiter := NewRateLimiter(rateMbps)
	for pos := 0; pos < len(data); pos += chunkSize {
		end := pos + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[pos:end]

		limiter.Wait(len(chunk))

		if err := sess.SendBulk(chunk, wire.FrameData, uint32(pos)); err != nil {
			return fmt.Errorf("transfer: %w: data frame at %d: %v", errs.ErrTransferAborted, pos, err)
		}
	}

	if err := sess.SendBulk(nil, wire.FrameEnd, uint32(len(data))); err != nil {
		return fmt.Errorf("transfer: %w: end frame: %v", errs.ErrTransferAborted, err)
	}

	return nil
}

// waitConnected polls at connectPollInterval until svc reports
// Connected, aborting if the context is done or the session stops
// first (spec.md §4.4 step 1).
func waitConnected(ctx context.Context, svc *pppp.PPPPService) error {
	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()

	for {
		if svc.Connected() {
			return nil
		}
		if sess := svc.Session(); sess != nil && sess.Stopped() {
			return fmt.Errorf("transfer: %w: session stopped before connecting", errs.ErrTransferAborted)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transfer: %w: %v", errs.ErrTransferAborted, ctx.Err())
		case <-ticker.C:
		}
	}
}
