// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mediadistort/cluster/frame"
)

// handleTransferConn runs the worker side of spec.md §4.5 for one client
// link: a single START_DISTORT or RESUME_DISTORT handshake followed by
// whichever of the three phases the attached cursor has not yet completed.
func (w *Worker) handleTransferConn(link *Link) {
	f, err := link.Read()
	if err != nil {
		w.Printf("Failed reading transfer request: %v", err)
		return
	}

	switch f.Type {
	case frame.TypeStartDistort, frame.TypeResumeDistort:
		w.runTransfer(link, f)
	default:
		w.Errorf("Unexpected frame type %s opening a transfer link", f.Type)
	}
}

func (w *Worker) runTransfer(link *Link, f frame.Frame) {
	fields, err := frame.SplitFields(f.Payload, 5)
	if err != nil {
		_ = link.Send(f.Type, []byte("CON_KO"))
		return
	}
	user, filename, sizeStr, declaredMD5, factorStr := fields[0], fields[1], fields[2], fields[3], fields[4]

	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		_ = link.Send(f.Type, []byte("CON_KO"))
		return
	}
	factor, err := strconv.Atoi(factorStr)
	if err != nil {
		_ = link.Send(f.Type, []byte("CON_KO"))
		return
	}

	cursor := w.cursors.Attach(filename)
	w.syncCursorPull(cursor, filename)
	if err := link.Send(f.Type, []byte("OK")); err != nil {
		w.Errorf("Failed acknowledging transfer request: %v", err)
		return
	}

	uploadPath := filepath.Join(w.dir, "uploads", user, filename)

	if phase, _ := cursor.Snapshot(); phase == PhaseReceiving {
		ok := w.receivePhase(link, cursor, filename, uploadPath, size, declaredMD5, f.Type == frame.TypeStartDistort)
		if !ok {
			return
		}
	}

	if phase, _ := cursor.Snapshot(); phase == PhaseDistorting {
		ok := w.distortPhase(link, cursor, filename, uploadPath, factor)
		if !ok {
			return
		}
	}

	outputPath := distortionOutputPath(w.kind, uploadPath)
	if phase, _ := cursor.Snapshot(); phase == PhaseSending {
		if !w.sendPhase(link, cursor, filename, outputPath) {
			return
		}
	}

	w.cursors.Release(filename)
	w.syncCursorRelease(filename)
}

// receivePhase implements spec.md §4.5 phase 1 (Receiving). It writes every
// FILE_DATA payload to path (truncating for a fresh START, appending for a
// RESUME so an existing partial upload is preserved), acknowledging each
// chunk and pushing the updated byte count to the coordinator-side cursor
// store before the next read, so a worker that fails over mid-upload never
// has the client re-send bytes [0..B) (spec.md §8 scenario 5).
func (w *Worker) receivePhase(link *Link, cursor *Cursor, filename, path string, size int64, declaredMD5 string, truncate bool) (ok bool) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.Errorf("Failed creating upload directory: %v", err)
		return false
	}

	flags := os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	out, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		w.Errorf("Failed opening upload file: %v", err)
		return false
	}
	defer out.Close()

	for {
		_, total := cursor.Snapshot()
		if total >= size {
			break
		}
		f, err := link.Read()
		if err != nil {
			// Link lost mid-upload: leave the cursor as-is, a later resume
			// attempt reattaches and continues from the same byte count.
			w.Printf("Link lost during receive phase: %v", err)
			return false
		}
		if f.Type != frame.TypeFileData {
			w.Errorf("Unexpected frame type %s during receive phase", f.Type)
			return false
		}
		if _, err := out.Write(f.Payload); err != nil {
			w.Errorf("Failed writing upload chunk: %v", err)
			return false
		}
		cursor.AddBytes(int64(len(f.Payload)))
		w.syncCursorPush(cursor, filename)
		if err := link.Send(frame.TypeFileData, []byte("OK")); err != nil {
			w.Printf("Link lost acknowledging receive chunk: %v", err)
			return false
		}
	}
	if err := out.Close(); err != nil {
		w.Errorf("Failed closing upload file: %v", err)
		return false
	}

	sum, err := md5File(path)
	if err != nil {
		w.Errorf("Failed computing upload checksum: %v", err)
		return false
	}
	if sum != declaredMD5 {
		_ = link.Send(frame.TypeEndDistort, []byte("CHECK_KO"))
		w.Printf("Upload checksum mismatch for %s", path)
		return false
	}
	if err := link.Send(frame.TypeEndDistort, []byte("CHECK_OK")); err != nil {
		w.Printf("Link lost sending upload CHECK_OK: %v", err)
		return false
	}
	reply, err := link.Read()
	if err != nil || reply.Type != frame.TypeEndDistort {
		w.Printf("Did not receive client's reciprocal CHECK_OK: %v", err)
		return false
	}

	cursor.Advance(PhaseDistorting)
	w.syncCursorPush(cursor, filename)
	return true
}

// distortPhase implements spec.md §4.5 phase 2 (Distorting): invoke the
// black-box distort operation and advance the cursor to Sending.
func (w *Worker) distortPhase(link *Link, cursor *Cursor, filename, uploadPath string, factor int) (ok bool) {
	if _, err := w.distort(uploadPath, factor); err != nil {
		w.Errorf("Distortion failed for %s: %v", uploadPath, err)
		return false
	}
	cursor.Advance(PhaseSending)
	w.syncCursorPush(cursor, filename)
	return true
}

// sendPhase implements spec.md §4.5 phase 3 (Sending): mirror the
// distorted file back to the client in 247-byte chunks, seeking to the
// cursor's remembered offset so a resumed send never repeats bytes, and
// pushing progress to the coordinator-side cursor store after every chunk
// for the same cross-process failover reasons as receivePhase.
func (w *Worker) sendPhase(link *Link, cursor *Cursor, filename, outputPath string) (ok bool) {
	info, err := os.Stat(outputPath)
	if err != nil {
		w.Errorf("Failed stating distorted output: %v", err)
		return false
	}
	sum, err := md5File(outputPath)
	if err != nil {
		w.Errorf("Failed computing output checksum: %v", err)
		return false
	}

	payload, err := frame.JoinFields(strconv.FormatInt(info.Size(), 10), sum)
	if err != nil {
		w.Errorf("Failed building START_DISTORT_BACK payload: %v", err)
		return false
	}
	if err := link.Send(frame.TypeStartDistortBack, []byte(payload)); err != nil {
		w.Printf("Link lost sending START_DISTORT_BACK: %v", err)
		return false
	}
	ack, err := link.Read()
	if err != nil || string(ack.Payload) != "OK" {
		w.Printf("Client did not accept START_DISTORT_BACK: %v", err)
		return false
	}

	out, err := os.Open(outputPath)
	if err != nil {
		w.Errorf("Failed reopening distorted output: %v", err)
		return false
	}
	defer out.Close()

	_, offset := cursor.Snapshot()
	if _, err := out.Seek(offset, io.SeekStart); err != nil {
		w.Errorf("Failed seeking distorted output: %v", err)
		return false
	}

	buf := make([]byte, frame.MaxPayload)
	for {
		n, err := out.Read(buf)
		if n > 0 {
			if sendErr := link.Send(frame.TypeFileData, buf[:n]); sendErr != nil {
				w.Printf("Link lost sending distorted chunk: %v", sendErr)
				return false
			}
			reply, readErr := link.Read()
			if readErr != nil || string(reply.Payload) != "OK" {
				w.Printf("Link lost acknowledging distorted chunk: %v", readErr)
				return false
			}
			cursor.AddBytes(int64(n))
			w.syncCursorPush(cursor, filename)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Errorf("Failed reading distorted output: %v", err)
			return false
		}
	}

	final, err := link.Read()
	if err != nil {
		w.Printf("Link lost awaiting final CHECK: %v", err)
		return false
	}
	if final.Type != frame.TypeEndDistort {
		w.Errorf("Unexpected frame type %s awaiting final CHECK", final.Type)
		return false
	}
	if err := link.Send(frame.TypeEndDistort, []byte("OK")); err != nil {
		w.Printf("Link lost sending final acknowledgement: %v", err)
		return false
	}
	return true
}

// distortionOutputPath mirrors distortion.OutputPath without importing the
// distortion package's Kind into this file's signatures.
func distortionOutputPath(kind Kind, inputPath string) string {
	if kind == KindMedia {
		return inputPath
	}
	return inputPath + "_distorted"
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("components: open %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("components: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
