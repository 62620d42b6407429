// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transfer implements the file-transfer pipeline (component E):
// send_file's BEGIN/DATA/END bulk-frame protocol on top of a connected
// session.Session, with a rate limiter and exclusive use of the bulk
// channel for the duration of one transfer.
package transfer

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// FileUploadInfo is the upload metadata carried in the BEGIN frame.
type FileUploadInfo struct {
	Name      string `json:"name"`
	Size      uint64 `json:"size"`
	MD5       string `json:"md5"`
	UserName  string `json:"user_name"`
	UserID    string `json:"user_id"`
	MachineID string `json:"machine_id"`
}

// NewFileUploadInfo computes size and an MD5 hex digest over data.
// userName identifies the operator initiating the transfer; userID and
// machineID match the original CLI tool's own placeholders ("-") when
// this system has no real identity to report for them.
func NewFileUploadInfo(name string, data []byte, userName, userID, machineID string) FileUploadInfo {
	sum := md5.Sum(data)
	return FileUploadInfo{
		Name:      name,
		Size:      uint64(len(data)),
		MD5:       hex.EncodeToString(sum[:]),
		UserName:  userName,
		UserID:    userID,
		MachineID: machineID,
	}
}

// Serialize renders fui for the BEGIN frame payload. The specification
// treats the exact encoding as a codec-layer detail (a "supplied
// dependency"); JSON is used here for the same reason wire.Codec keeps
// its own format behind a narrow interface — callers never parse this
// themselves.
func (f FileUploadInfo) Serialize() ([]byte, error) {
	return json.Marshal(f)
}
